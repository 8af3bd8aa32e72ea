package events

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEmitterWritesOneFramePerLine(t *testing.T) {
	var buf bytes.Buffer
	e := NewStreamEmitter(&buf)

	require.NoError(t, e.Emit(NewTextFrame("hello ")))
	require.NoError(t, e.Emit(NewToolStartFrame("execute_query", map[string]any{"sql": "SELECT 1"})))
	require.NoError(t, e.Emit(NewDoneFrame()))

	scanner := bufio.NewScanner(&buf)
	var frames []Frame
	for scanner.Scan() {
		f, err := ParseFrame(scanner.Bytes())
		require.NoError(t, err)
		frames = append(frames, f)
	}
	require.Len(t, frames, 3)
	assert.Equal(t, FrameTypeText, frames[0].Type)
	assert.Equal(t, "hello ", frames[0].Text)
	assert.Equal(t, FrameTypeToolStart, frames[1].Type)
	assert.Equal(t, "execute_query", frames[1].Tool)
	assert.Equal(t, FrameTypeDone, frames[2].Type)
}

func TestStreamEmitterLatchesAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	e := NewStreamEmitter(&buf)

	require.NoError(t, e.Emit(NewDoneFrame()))
	require.True(t, e.Closed())

	// Everything after the terminal frame is dropped, including another
	// terminal.
	require.NoError(t, e.Emit(NewTextFrame("late")))
	require.NoError(t, e.Emit(NewDoneFrame()))
	require.NoError(t, e.Emit(NewCancelledFrame()))

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestErrorFrameIsNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	e := NewStreamEmitter(&buf)

	require.NoError(t, e.Emit(NewErrorFrame(assert.AnError)))
	require.False(t, e.Closed())
	require.NoError(t, e.Emit(NewDoneFrame()))
	require.True(t, e.Closed())

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestColumnEmitterTagsFrames(t *testing.T) {
	var sink CollectingEmitter
	col := &ColumnEmitter{Column: "gpt-4o", Next: &sink}

	require.NoError(t, col.Emit(NewTextFrame("hi")))

	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "gpt-4o", frames[0].Column)
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	_, err := ParseFrame([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"text":"missing type"}`))
	assert.Error(t, err)
}
