package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes frames to a set of watermill Publishers.
// You "subscribe" a publisher to a given topic; every emitted frame is then
// delivered to all publishers on the topics they were subscribed with.
//
// The manager stamps each outgoing message with a sequence number in the
// order frames are handled by Emit, so downstream consumers can detect
// reordering even when the transport does not preserve it.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.publishers[topic] = append(s.publishers[topic], pub)
}

var _ Emitter = (*PublisherManager)(nil)

// Emit serializes the frame and distributes it to all subscribed publishers.
func (s *PublisherManager) Emit(frame Frame) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	s.sequenceNumber++

	for topic, pubs := range s.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish frame")
			}
		}
	}

	return nil
}

// EmitterPublisher adapts an Emitter to the watermill Publisher interface,
// so a stream writer can be subscribed to a PublisherManager topic directly,
// without a broker in between. Publishing is synchronous; frame order on the
// wire is the order of Emit calls on the manager.
type EmitterPublisher struct {
	next Emitter
}

func NewEmitterPublisher(next Emitter) *EmitterPublisher {
	return &EmitterPublisher{next: next}
}

var _ message.Publisher = (*EmitterPublisher)(nil)

func (p *EmitterPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		frame, err := ParseFrame(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Str("message_id", msg.UUID).Msg("dropping undecodable frame")
			continue
		}
		if err := p.next.Emit(frame); err != nil {
			return err
		}
	}
	return nil
}

func (p *EmitterPublisher) Close() error { return nil }

// FrameHandler turns a watermill message back into a Frame and hands it to fn.
// Use with message.Router handlers subscribed to a PublisherManager topic.
func FrameHandler(fn func(Frame) error) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		frame, err := ParseFrame(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable frame")
			return nil
		}
		return fn(frame)
	}
}
