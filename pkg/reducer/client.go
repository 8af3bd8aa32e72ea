package reducer

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/datachat-io/datachat/pkg/events"
)

// maxFrameSize bounds a single frame record; generated documents ride inside
// text frames, so the limit is generous.
const maxFrameSize = 4 * 1024 * 1024

// Client consumes a frame stream from a single response body and folds it
// into display state. Frames may arrive split across network reads; the
// client buffers until a full record boundary is seen.
type Client struct {
	state   State
	onFrame func(events.Frame, State)
}

type ClientOption func(*Client)

// WithFrameObserver registers a callback invoked after every applied frame
// with the frame and the resulting state; this is the thin side-effecting
// shell that applies reducer output to a rendering surface.
func WithFrameObserver(fn func(events.Frame, State)) ClientOption {
	return func(c *Client) { c.onFrame = fn }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{state: New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current display state.
func (c *Client) State() State {
	return c.state
}

// Consume reads the stream to completion, applying each frame in order. It
// returns once a terminal frame has been applied and the stream ends, or on
// a read error. Cancellation is cooperative: the context is checked before
// every read.
func (c *Client) Consume(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame, err := events.ParseFrame(line)
		if err != nil {
			log.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}
		c.apply(frame)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read frame stream")
	}
	return nil
}

func (c *Client) apply(frame events.Frame) {
	c.state = Reduce(c.state, frame)
	if c.onFrame != nil {
		c.onFrame(frame, c.state)
	}
}
