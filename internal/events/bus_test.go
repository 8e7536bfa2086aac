package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe(nil)
	defer bus.Unsubscribe(sub)

	bus.Publish(New(CollectionStarted, "scheduler", map[string]interface{}{"provider": "demo"}))

	e := <-sub.C
	assert.Equal(t, CollectionStarted, e.Type)
	assert.Equal(t, "scheduler", e.Source)
	assert.Equal(t, "demo", e.Data["provider"])
}

func TestSubscribeTypesFilters(t *testing.T) {
	bus := NewBus(8)
	sub := bus.SubscribeTypes(WorkflowCompleted)
	defer bus.Unsubscribe(sub)

	bus.Publish(New(CollectionStarted, "scheduler", nil))
	bus.Publish(New(WorkflowCompleted, "engine", nil))

	e := <-sub.C
	assert.Equal(t, WorkflowCompleted, e.Type)
	assert.Empty(t, sub.C)
}

func TestCustomerFilter(t *testing.T) {
	bus := NewBus(8)
	want := uuid.New()
	sub := bus.Subscribe(func(e Event) bool {
		return e.CustomerID != nil && *e.CustomerID == want
	})
	defer bus.Unsubscribe(sub)

	other := uuid.New()
	bus.Publish(New(CollectionCompleted, "scheduler", nil).ForCustomer(other))
	bus.Publish(New(CollectionCompleted, "scheduler", nil).ForCustomer(want))

	e := <-sub.C
	require.NotNil(t, e.CustomerID)
	assert.Equal(t, want, *e.CustomerID)
	assert.Empty(t, sub.C)
}

func TestSaturatedSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe(nil)
	defer bus.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		bus.Publish(New(AgentRegistered, "orchestrator", nil))
	}
	assert.Len(t, sub.C, 2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe(nil)
	bus.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, bus.SubscriberCount())

	// Idempotent.
	bus.Unsubscribe(sub)
}
