package events

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
)

// Emitter receives orchestrator progress frames in order. Implementations
// must be safe for use from a single goroutine; fan-out across goroutines is
// the job of the PublisherManager.
type Emitter interface {
	Emit(frame Frame) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Frame) error

func (f EmitterFunc) Emit(frame Frame) error {
	return f(frame)
}

// StreamEmitter writes frames as newline-delimited JSON records over a single
// long-lived response body. It guarantees that at most one terminal frame is
// written, and that nothing follows it.
type StreamEmitter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

func NewStreamEmitter(w io.Writer) *StreamEmitter {
	e := &StreamEmitter{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

func (e *StreamEmitter) Emit(frame Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		log.Debug().Str("type", string(frame.Type)).Msg("dropping frame after terminal")
		return nil
	}

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(append(b, '\n')); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	if frame.IsTerminal() {
		e.closed = true
	}
	return nil
}

// Closed reports whether a terminal frame has been written.
func (e *StreamEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ColumnEmitter tags every frame with a column identifier before forwarding,
// used when several orchestrators stream side by side into one response.
type ColumnEmitter struct {
	Column string
	Next   Emitter
}

func (e *ColumnEmitter) Emit(frame Frame) error {
	frame.Column = e.Column
	return e.Next.Emit(frame)
}

// MultiEmitter forwards frames to several emitters; the first error wins but
// remaining emitters still receive the frame.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(frame Frame) error {
	var firstErr error
	for _, e := range m {
		if err := e.Emit(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CollectingEmitter records frames in memory, mostly for tests and for the
// pipeline coordinator's intermediate capture.
type CollectingEmitter struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *CollectingEmitter) Emit(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *CollectingEmitter) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}
