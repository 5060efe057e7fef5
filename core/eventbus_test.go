package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishInRegistrationOrder(t *testing.T) {
	bus := NewEventBus[string, int]()
	var got []string

	bus.Subscribe("a", func(event string, payload int) {
		got = append(got, "first")
		assert.Equal(t, "a", event)
		assert.Equal(t, 42, payload)
	})
	bus.Subscribe("a", func(event string, payload int) { got = append(got, "second") })
	bus.Subscribe("b", func(event string, payload int) { got = append(got, "other") })

	bus.Publish("a", 42)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestEventBus_PublishWithoutSubscribers(t *testing.T) {
	var bus EventBus[string, int]
	assert.NotPanics(t, func() { bus.Publish("nothing", 1) })
	assert.Equal(t, 0, bus.Len("nothing"))
}

func TestEventBus_UnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	bus := NewEventBus[string, int]()
	calls := 0
	h := func(string, int) { calls++ }

	unsubFirst := bus.Subscribe("e", h)
	bus.Subscribe("e", h)
	require.Equal(t, 2, bus.Len("e"))

	unsubFirst()
	unsubFirst()
	assert.Equal(t, 1, bus.Len("e"))

	bus.Publish("e", 0)
	assert.Equal(t, 1, calls)
}

func TestEventBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewEventBus[string, int]()
	var got []string

	var unsubSelf func()
	unsubSelf = bus.Subscribe("e", func(string, int) {
		got = append(got, "self")
		unsubSelf()
	})
	bus.Subscribe("e", func(string, int) { got = append(got, "next") })

	bus.Publish("e", 0)
	assert.Equal(t, []string{"self", "next"}, got)

	got = nil
	bus.Publish("e", 0)
	assert.Equal(t, []string{"next"}, got)
}

func TestEventBus_SubscribeDuringPublishWaitsForNextPublish(t *testing.T) {
	bus := NewEventBus[string, int]()
	late := 0
	bus.Subscribe("e", func(string, int) {
		bus.Subscribe("e", func(string, int) { late++ })
	})

	bus.Publish("e", 0)
	assert.Equal(t, 0, late)

	bus.Publish("e", 0)
	assert.Equal(t, 1, late)
}

func TestEventBus_ConcurrentUse(t *testing.T) {
	bus := NewEventBus[string, int]()
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe("e", func(_ string, n int) {
				mu.Lock()
				total += n
				mu.Unlock()
			})
			bus.Publish("other", 1)
			unsub()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, bus.Len("e"))
	bus.Publish("e", 1)
	assert.Equal(t, 0, total)
}
