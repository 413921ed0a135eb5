package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Topic identifies a class of pipeline event.
type Topic string

const (
	TopicCustomerNotFound          Topic = "CustomerNotFound"
	TopicCityNotFound              Topic = "CityNotFound"
	TopicStateNotFound             Topic = "StateNotFound"
	TopicBranchNotFound            Topic = "BranchNotFound"
	TopicRepresentativeNotAssigned Topic = "RepresentativeNotAssigned"
	TopicRowsRemoved               Topic = "RowsRemoved"
	TopicDataRecorded              Topic = "DataRecorded"
	TopicFormatting                Topic = "Formatting"
	TopicMappingCreated            Topic = "MappingCreated"
)

// Event is what handlers receive. Context is the publisher's per-run state
// (for pipeline topics, the submission context); Payload is topic specific.
type Event struct {
	Topic   Topic
	Context any
	Payload any
}

// Handler reacts to an event. A returned error aborts the publish.
type Handler func(ctx context.Context, evt Event) error

// Bus is a synchronous, in-process publish/subscribe dispatcher.
// Handlers for a topic run in registration order on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]namedHandler
	log      *zap.Logger
}

type namedHandler struct {
	name string
	fn   Handler
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Topic][]namedHandler),
		log:      log.Named("eventbus"),
	}
}

// Subscribe registers fn for topic. name is used in logs and error messages.
func (b *Bus) Subscribe(topic Topic, name string, fn Handler) {
	if fn == nil {
		return
	}
	topic = topic.normalize()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], namedHandler{name: name, fn: fn})
}

// Publish delivers payload to every handler of topic and returns the first
// handler error. Publishing a topic nobody subscribed to is a no-op.
func (b *Bus) Publish(ctx context.Context, topic Topic, evtCtx any, payload any) error {
	if b == nil {
		return nil
	}
	topic = topic.normalize()
	b.mu.RLock()
	handlers := b.handlers[topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	evt := Event{Topic: topic, Context: evtCtx, Payload: payload}
	for _, h := range handlers {
		if err := h.fn(ctx, evt); err != nil {
			b.log.Warn("event handler failed",
				zap.String("topic", string(topic)),
				zap.String("handler", h.name),
				zap.Error(err),
			)
			return fmt.Errorf("%s handler %s: %w", topic, h.name, err)
		}
	}
	return nil
}

// Subscribers returns the handler names registered for topic, in dispatch order.
func (b *Bus) Subscribers(topic Topic) []string {
	topic = topic.normalize()
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		names = append(names, h.name)
	}
	return names
}

func (t Topic) normalize() Topic {
	return Topic(strings.TrimSpace(string(t)))
}
