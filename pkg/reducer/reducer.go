// Package reducer reconstructs typed, displayable message content from the
// event frame stream, one frame at a time, without ever seeing the whole
// message at once.
package reducer

import (
	"strings"

	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/markup"
)

// State is the reducer's accumulator for one assistant exchange. Reduce is a
// pure function over it: the returned state shares no mutable data with its
// input, and Blocks is rebuilt (never patched field-by-field) on every frame.
type State struct {
	// Blocks is the displayable output, rebuilt on every frame.
	Blocks []DisplayBlock

	// liveText is the raw accumulated text since the last commit boundary.
	liveText string

	// chain is the committed chain-of-thought aggregate. Text committed here
	// is cleared from liveText and never duplicated into the final answer.
	chain []Segment

	// committed holds blocks fixed in arrival order: charts, maps and
	// intermediate outputs.
	committed []DisplayBlock

	// intermediate accumulates phase-1 narration from a two-phase pipeline.
	intermediate string

	// docStart is the offset inside liveText where an in-progress document
	// begins; docActive reports whether detection has fired.
	docStart  int
	docActive bool

	savedID   string
	errNote   string
	finalized bool
	cancelled bool
}

// New returns an empty reducer state.
func New() State {
	return State{}
}

func (s State) clone() State {
	out := s
	out.Blocks = append([]DisplayBlock(nil), s.Blocks...)
	out.chain = append([]Segment(nil), s.chain...)
	out.committed = append([]DisplayBlock(nil), s.committed...)
	return out
}

// Reduce folds one frame into the state. Applying a terminal frame to an
// already-finalized state is a no-op: the reducer is state-replacing, not
// state-appending, at the block level.
func Reduce(prev State, frame events.Frame) State {
	if prev.finalized {
		return prev
	}
	s := prev.clone()

	switch frame.Type {
	case events.FrameTypeText:
		s.liveText += frame.Text
		s.detectDocument()

	case events.FrameTypeIntermediateText:
		s.intermediate += frame.Text

	case events.FrameTypeIntermediateOutput:
		s.committed = append(s.committed, DisplayBlock{
			Type:    BlockTypeIntermediate,
			Source:  frame.Source,
			Content: frame.Content,
		})

	case events.FrameTypeToolStart:
		s.commitLiveText()
		if sql := sqlFromArgs(frame.Args); sql != "" {
			s.chain = append(s.chain, Segment{Kind: SegmentSQL, Content: sql})
		}

	case events.FrameTypeToolEnd:
		// Tool completion needs no display change; results arrive as their
		// own frames (chart, map, intermediate_output) or as model text.

	case events.FrameTypeChart:
		s.committed = append(s.committed, DisplayBlock{Type: BlockTypeChart, Chart: frame.Chart})

	case events.FrameTypeMap:
		s.committed = append(s.committed, DisplayBlock{Type: BlockTypeMap, Map: frame.Map})

	case events.FrameTypeContentSaved:
		s.savedID = frame.SavedID

	case events.FrameTypeError:
		// Errors append an explanatory note; prior content is never retracted.
		s.errNote = frame.Message

	case events.FrameTypeCancelled:
		s.cancelled = true
		s.finalized = true

	case events.FrameTypeDone:
		s.finalized = true
	}

	s.Blocks = s.rebuild()
	return s
}

// detectDocument fires once per live buffer: from the detection offset
// onward, all accumulated text is the in-progress document body and is
// re-rendered verbatim from the stored offset on every frame. Upstream
// providers may reissue overlapping text, so the suffix is always recomputed
// rather than trusting incremental deltas.
func (s *State) detectDocument() {
	if s.docActive {
		return
	}
	if off, ok := markup.DocumentStart(s.liveText); ok {
		s.docStart = off
		s.docActive = true
	}
}

// commitLiveText is the commit boundary: text preceding a tool_start is
// irrevocably folded into the chain-of-thought aggregate and the live buffer
// is cleared, so it can never be duplicated into the final answer.
func (s *State) commitLiveText() {
	if strings.TrimSpace(s.liveText) != "" {
		s.chain = append(s.chain, splitNarration(s.liveText)...)
	}
	s.liveText = ""
	s.docActive = false
	s.docStart = 0
}

// rebuild recomputes the display list from the accumulators. Order: the
// chain-of-thought trail, intermediate phase content, committed visuals in
// arrival order, then whatever the live buffer currently holds, then any
// error note and suggestions.
func (s *State) rebuild() []DisplayBlock {
	var blocks []DisplayBlock

	if len(s.chain) > 0 {
		blocks = append(blocks, chainBlock(s.chain))
	}
	if strings.TrimSpace(s.intermediate) != "" {
		blocks = append(blocks, DisplayBlock{
			Type:    BlockTypeIntermediate,
			Source:  "analysis",
			Content: s.intermediate,
		})
	}
	blocks = append(blocks, s.committed...)
	blocks = append(blocks, s.liveBlocks()...)

	if s.errNote != "" {
		blocks = append(blocks, textBlock("Something went wrong: "+s.errNote))
	}
	return blocks
}

// liveBlocks renders the live buffer: an in-progress or completed document
// with surrounding prose, or plain prose, annotated as cancelled when the
// exchange was cut short.
func (s *State) liveBlocks() []DisplayBlock {
	if strings.TrimSpace(s.liveText) == "" {
		return nil
	}

	var blocks []DisplayBlock

	if s.docActive {
		if s.finalized && !s.cancelled {
			before, doc, after, found := markup.Extract(s.liveText)
			if found {
				if before != "" {
					blocks = append(blocks, textBlock(before))
				}
				blocks = append(blocks, DisplayBlock{
					Type:       BlockTypeDocument,
					Document:   doc,
					IsComplete: markup.Complete(doc),
					SavedID:    s.savedID,
				})
				if after != "" {
					blocks = append(blocks, s.proseWithSuggestions(after)...)
				}
				return blocks
			}
		}
		// Replace-not-append streaming: the body is always the verbatim
		// suffix from the stored detection offset.
		narration := strings.TrimSpace(markup.StripTrailingFence(s.liveText[:s.docStart]))
		if narration != "" {
			blocks = append(blocks, textBlock(narration))
		}
		doc := s.liveText[s.docStart:]
		blocks = append(blocks, DisplayBlock{
			Type:       BlockTypeDocument,
			Document:   doc,
			IsComplete: s.finalized && markup.Complete(doc),
			SavedID:    s.savedID,
			Cancelled:  s.cancelled,
		})
		return blocks
	}

	if s.finalized {
		prose := s.proseWithSuggestions(strings.TrimSpace(s.liveText))
		if s.cancelled {
			for i := range prose {
				prose[i].Cancelled = true
			}
		}
		return prose
	}
	return []DisplayBlock{textBlock(s.liveText)}
}

const suggestionsHeading = "Suggested follow-ups:"

// proseWithSuggestions splits a trailing suggestions section off final prose
// into its own block of items.
func (s *State) proseWithSuggestions(text string) []DisplayBlock {
	idx := strings.LastIndex(text, suggestionsHeading)
	if idx == -1 {
		return []DisplayBlock{textBlock(text)}
	}

	var items []string
	for _, line := range strings.Split(text[idx+len(suggestionsHeading):], "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if line != "" {
			items = append(items, line)
		}
	}
	if len(items) == 0 {
		return []DisplayBlock{textBlock(text)}
	}

	var blocks []DisplayBlock
	if lead := strings.TrimSpace(text[:idx]); lead != "" {
		blocks = append(blocks, textBlock(lead))
	}
	return append(blocks, DisplayBlock{Type: BlockTypeSuggestions, Items: items})
}

// sqlFromArgs pulls the query text out of tool_start arguments.
func sqlFromArgs(args map[string]any) string {
	for _, key := range []string{"sql", "query", "statement"} {
		if v, ok := args[key]; ok {
			if q, ok := v.(string); ok && strings.TrimSpace(q) != "" {
				return q
			}
		}
	}
	return ""
}

const sqlFence = "```sql"

// splitNarration splits committed narration into alternating prose and
// fenced-query segments, preserving arrival order.
func splitNarration(text string) []Segment {
	var segments []Segment
	rest := text
	for {
		idx := strings.Index(rest, sqlFence)
		if idx == -1 {
			if prose := strings.TrimSpace(rest); prose != "" {
				segments = append(segments, Segment{Kind: SegmentProse, Content: prose})
			}
			return segments
		}
		if prose := strings.TrimSpace(rest[:idx]); prose != "" {
			segments = append(segments, Segment{Kind: SegmentProse, Content: prose})
		}
		rest = rest[idx+len(sqlFence):]
		end := strings.Index(rest, "```")
		if end == -1 {
			// Unterminated fence: everything left is the query.
			if sql := strings.TrimSpace(rest); sql != "" {
				segments = append(segments, Segment{Kind: SegmentSQL, Content: sql})
			}
			return segments
		}
		if sql := strings.TrimSpace(rest[:end]); sql != "" {
			segments = append(segments, Segment{Kind: SegmentSQL, Content: sql})
		}
		rest = rest[end+3:]
	}
}
