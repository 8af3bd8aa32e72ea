package reducer

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat/pkg/events"
)

// chunkedReader returns at most n bytes per Read, forcing frames to arrive
// split across reads.
type chunkedReader struct {
	data []byte
	n    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func encodeFrames(t *testing.T, frames ...events.Frame) []byte {
	t.Helper()
	var sb strings.Builder
	for _, f := range frames {
		b, err := json.Marshal(f)
		require.NoError(t, err)
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func TestClientConsumesStream(t *testing.T) {
	data := encodeFrames(t,
		events.NewTextFrame("The answer "),
		events.NewTextFrame("is 42."),
		events.NewDoneFrame(),
	)

	var seen []events.FrameType
	c := NewClient(WithFrameObserver(func(f events.Frame, _ State) {
		seen = append(seen, f.Type)
	}))
	err := c.Consume(context.Background(), strings.NewReader(string(data)))
	require.NoError(t, err)

	require.Len(t, seen, 3)
	s := c.State()
	require.Len(t, s.Blocks, 1)
	assert.Equal(t, "The answer is 42.", s.Blocks[0].Text)
}

func TestClientToleratesFramesSplitAcrossReads(t *testing.T) {
	data := encodeFrames(t,
		events.NewTextFrame("streaming through tiny reads"),
		events.NewToolStartFrame("execute_query", map[string]any{"sql": "SELECT 1"}),
		events.NewTextFrame("final"),
		events.NewDoneFrame(),
	)

	// Three bytes per read means every frame spans many reads.
	c := NewClient()
	err := c.Consume(context.Background(), &chunkedReader{data: data, n: 3})
	require.NoError(t, err)

	s := c.State()
	chain, ok := findBlock(s, BlockTypeChainOfThought)
	require.True(t, ok)
	assert.Equal(t, []string{"SELECT 1"}, chain.SQLStatements)
	final, ok := findBlock(s, BlockTypeText)
	require.True(t, ok)
	assert.Equal(t, "final", final.Text)
}

func TestClientSkipsUndecodableLines(t *testing.T) {
	data := append([]byte("this is not json\n"), encodeFrames(t,
		events.NewTextFrame("still works"),
		events.NewDoneFrame(),
	)...)

	c := NewClient()
	err := c.Consume(context.Background(), strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Len(t, c.State().Blocks, 1)
	assert.Equal(t, "still works", c.State().Blocks[0].Text)
}

func TestClientStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := encodeFrames(t,
		events.NewTextFrame("a"),
		events.NewTextFrame("b"),
	)
	c := NewClient()
	err := c.Consume(ctx, strings.NewReader(string(data)))
	assert.ErrorIs(t, err, context.Canceled)
}
