package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type FrameType string

const (
	FrameTypeText               FrameType = "text"
	FrameTypeToolStart          FrameType = "tool_start"
	FrameTypeToolEnd            FrameType = "tool_end"
	FrameTypeChart              FrameType = "chart"
	FrameTypeMap                FrameType = "map"
	FrameTypeContentSaved       FrameType = "content_saved"
	FrameTypeIntermediateText   FrameType = "intermediate_text"
	FrameTypeIntermediateOutput FrameType = "intermediate_output"
	FrameTypeError              FrameType = "error"
	FrameTypeCancelled          FrameType = "cancelled"
	FrameTypeDone               FrameType = "done"
)

// ChartSpec is the payload of a chart frame, produced by the synthetic chart
// tool. Data rows are kept untyped since the model supplies them.
type ChartSpec struct {
	Type  string           `json:"type"`
	Title string           `json:"title"`
	Data  []map[string]any `json:"data"`
	XKey  string           `json:"xKey"`
	YKey  string           `json:"yKey"`
}

// MapPoint is a single marker on a generated map.
type MapPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Details string  `json:"details,omitempty"`
}

// MapSpec is the payload of a map frame.
type MapSpec struct {
	Title      string     `json:"title"`
	Data       []MapPoint `json:"data"`
	Center     []float64  `json:"center,omitempty"`
	Zoom       int        `json:"zoom,omitempty"`
	ValueLabel string     `json:"valueLabel,omitempty"`
}

// Frame is one record of the event stream sent to the client. Exactly one
// frame is written per line of the response body. The payload fields are
// populated according to Type.
type Frame struct {
	Type FrameType `json:"type"`

	// text, intermediate_text
	Text string `json:"text,omitempty"`

	// tool_start, tool_end
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// chart / map
	Chart *ChartSpec `json:"chart,omitempty"`
	Map   *MapSpec   `json:"map,omitempty"`

	// content_saved
	SavedID string `json:"id,omitempty"`

	// intermediate_output
	Source  string `json:"source,omitempty"`
	Content string `json:"content,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// Column tags the frame with the originating conversation column when
	// several models run side by side over the same input.
	Column string `json:"column,omitempty"`
}

// IsTerminal reports whether the frame ends the exchange.
func (f Frame) IsTerminal() bool {
	switch f.Type {
	case FrameTypeDone, FrameTypeCancelled:
		return true
	}
	return false
}

func NewTextFrame(text string) Frame {
	return Frame{Type: FrameTypeText, Text: text}
}

func NewToolStartFrame(tool string, args map[string]any) Frame {
	return Frame{Type: FrameTypeToolStart, Tool: tool, Args: args}
}

func NewToolEndFrame(tool string) Frame {
	return Frame{Type: FrameTypeToolEnd, Tool: tool}
}

func NewChartFrame(spec *ChartSpec) Frame {
	return Frame{Type: FrameTypeChart, Chart: spec}
}

func NewMapFrame(spec *MapSpec) Frame {
	return Frame{Type: FrameTypeMap, Map: spec}
}

func NewContentSavedFrame(id string) Frame {
	return Frame{Type: FrameTypeContentSaved, SavedID: id}
}

func NewIntermediateTextFrame(text string) Frame {
	return Frame{Type: FrameTypeIntermediateText, Text: text}
}

func NewIntermediateOutputFrame(source, content string) Frame {
	return Frame{Type: FrameTypeIntermediateOutput, Source: source, Content: content}
}

func NewErrorFrame(err error) Frame {
	return Frame{Type: FrameTypeError, Message: err.Error()}
}

func NewCancelledFrame() Frame {
	return Frame{Type: FrameTypeCancelled}
}

func NewDoneFrame() Frame {
	return Frame{Type: FrameTypeDone}
}

// ParseFrame decodes a single wire record.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, errors.Wrap(err, "parse frame")
	}
	if f.Type == "" {
		return Frame{}, errors.New("frame has no type")
	}
	return f, nil
}
