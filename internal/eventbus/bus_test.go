package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := New(zap.NewNop())
	assert.NoError(t, bus.Publish(context.Background(), TopicRowsRemoved, nil, 42))
}

func TestPublishRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := New(zap.NewNop())
	var order []string
	for _, name := range []string{"errors", "steps", "metrics"} {
		name := name
		bus.Subscribe(TopicCityNotFound, name, func(ctx context.Context, evt Event) error {
			order = append(order, name)
			assert.Equal(t, TopicCityNotFound, evt.Topic)
			assert.Equal(t, "run", evt.Context)
			assert.Equal(t, 7, evt.Payload)
			return nil
		})
	}

	require.NoError(t, bus.Publish(context.Background(), TopicCityNotFound, "run", 7))
	assert.Equal(t, []string{"errors", "steps", "metrics"}, order)
	assert.Equal(t, []string{"errors", "steps", "metrics"}, bus.Subscribers(TopicCityNotFound))
}

func TestPublishStopsAtFirstHandlerError(t *testing.T) {
	bus := New(zap.NewNop())
	boom := errors.New("disk full")
	calledAfter := false

	bus.Subscribe(TopicDataRecorded, "persist", func(context.Context, Event) error { return boom })
	bus.Subscribe(TopicDataRecorded, "after", func(context.Context, Event) error {
		calledAfter = true
		return nil
	})

	err := bus.Publish(context.Background(), TopicDataRecorded, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "persist")
	assert.False(t, calledAfter)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := New(nil)
	calls := 0
	bus.Subscribe(TopicFormatting, "steps", func(context.Context, Event) error {
		calls++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), TopicRowsRemoved, nil, nil))
	require.NoError(t, bus.Publish(context.Background(), TopicFormatting, nil, "note"))
	assert.Equal(t, 1, calls)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NoError(t, bus.Publish(context.Background(), TopicFormatting, nil, nil))
}

func TestTopicWhitespaceIsIgnored(t *testing.T) {
	bus := New(zap.NewNop())
	calls := 0
	bus.Subscribe(" RowsRemoved ", "steps", func(ctx context.Context, evt Event) error {
		calls++
		assert.Equal(t, TopicRowsRemoved, evt.Topic)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "RowsRemoved\t", nil, nil))
	require.NoError(t, bus.Publish(context.Background(), TopicRowsRemoved, nil, nil))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"steps"}, bus.Subscribers(" "+TopicRowsRemoved))
}
