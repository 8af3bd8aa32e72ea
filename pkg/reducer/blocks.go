package reducer

import (
	"github.com/datachat-io/datachat/pkg/events"
)

type BlockType string

const (
	BlockTypeText           BlockType = "text"
	BlockTypeChainOfThought BlockType = "chain_of_thought"
	BlockTypeChart          BlockType = "chart"
	BlockTypeMap            BlockType = "map"
	BlockTypeDocument       BlockType = "document"
	BlockTypeIntermediate   BlockType = "intermediate"
	BlockTypeSuggestions    BlockType = "suggestions"
)

type SegmentKind string

const (
	SegmentProse SegmentKind = "prose"
	SegmentSQL   SegmentKind = "sql"
)

// Segment is one piece of the chain-of-thought trail: either narration prose
// or a collapsible query block, in arrival order, so a user can audit what
// was queried and why without reading raw events.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Content string      `json:"content"`
}

// DisplayBlock is the typed, displayable unit the reducer folds frames into.
// One assistant turn maps to an ordered list of DisplayBlocks.
type DisplayBlock struct {
	Type BlockType `json:"type"`

	// text
	Text      string `json:"text,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`

	// chain_of_thought
	Segments      []Segment `json:"segments,omitempty"`
	SQLStatements []string  `json:"sql_statements,omitempty"`

	// chart / map
	Chart *events.ChartSpec `json:"chart,omitempty"`
	Map   *events.MapSpec   `json:"map,omitempty"`

	// document
	Document   string `json:"document,omitempty"`
	IsComplete bool   `json:"is_complete,omitempty"`
	SavedID    string `json:"saved_id,omitempty"`

	// intermediate
	Source  string `json:"source,omitempty"`
	Content string `json:"content,omitempty"`

	// suggestions
	Items []string `json:"items,omitempty"`
}

func textBlock(text string) DisplayBlock {
	return DisplayBlock{Type: BlockTypeText, Text: text}
}

func chainBlock(segments []Segment) DisplayBlock {
	b := DisplayBlock{Type: BlockTypeChainOfThought, Segments: segments}
	for _, s := range segments {
		if s.Kind == SegmentSQL {
			b.SQLStatements = append(b.SQLStatements, s.Content)
		}
	}
	return b
}
