package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherManagerFanOut(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := pubsub.Subscribe(ctx, "chat")
	require.NoError(t, err)

	pm := NewPublisherManager()
	pm.SubscribePublisher("chat", pubsub)

	require.NoError(t, pm.Emit(NewTextFrame("hello")))
	require.NoError(t, pm.Emit(NewDoneFrame()))

	handler := FrameHandler(func(f Frame) error { return nil })

	var got []Frame
	var seqs []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-messages:
			require.NoError(t, handler(msg))
			f, err := ParseFrame(msg.Payload)
			require.NoError(t, err)
			got = append(got, f)
			seqs = append(seqs, msg.Metadata.Get("sequence_number"))
			msg.Ack()
		case <-ctx.Done():
			t.Fatal("timed out waiting for published frames")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, FrameTypeText, got[0].Type)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, FrameTypeDone, got[1].Type)
	assert.Equal(t, []string{"0", "1"}, seqs)
}

func TestEmitterPublisherBridgesFrames(t *testing.T) {
	var sink CollectingEmitter
	pm := NewPublisherManager()
	pm.SubscribePublisher("chat", NewEmitterPublisher(&sink))

	require.NoError(t, pm.Emit(NewTextFrame("hello")))
	require.NoError(t, pm.Emit(NewToolStartFrame("execute_query", map[string]any{"source": "sales"})))
	require.NoError(t, pm.Emit(NewDoneFrame()))

	frames := sink.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, FrameTypeText, frames[0].Type)
	assert.Equal(t, "hello", frames[0].Text)
	assert.Equal(t, FrameTypeToolStart, frames[1].Type)
	assert.Equal(t, "execute_query", frames[1].Tool)
	assert.Equal(t, "sales", frames[1].Args["source"])
	assert.Equal(t, FrameTypeDone, frames[2].Type)
}

func TestEmitterPublisherDropsGarbagePayload(t *testing.T) {
	var sink CollectingEmitter
	p := NewEmitterPublisher(&sink)

	msg := message.NewMessage(watermill.NewUUID(), []byte("not a frame"))
	require.NoError(t, p.Publish("chat", msg))
	assert.Empty(t, sink.Frames())
}

func TestFrameHandlerDropsGarbage(t *testing.T) {
	called := false
	handler := FrameHandler(func(Frame) error {
		called = true
		return nil
	})

	msg := message.NewMessage(watermill.NewUUID(), []byte("not a frame"))
	assert.NoError(t, handler(msg))
	assert.False(t, called)
}
