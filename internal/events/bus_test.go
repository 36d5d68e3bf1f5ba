package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	counted = NewName[int]("counted")
	named   = NewName[string]("named")
)

func TestPublish_OrderAndTyping(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	Subscribe(bus, counted, func(n int) { got = append(got, "first") })
	Subscribe(bus, counted, func(n int) { got = append(got, "second") })
	Subscribe(bus, named, func(s string) { got = append(got, "named:"+s) })

	Publish(bus, counted, 1)
	Publish(bus, named, "x")

	assert.Equal(t, []string{"first", "second", "named:x"}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	sub := Subscribe(bus, counted, func(int) { calls++ })
	assert.Equal(t, 1, bus.Listeners("counted"))

	Publish(bus, counted, 1)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // no-op
	Publish(bus, counted, 2)

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Listeners("counted"))
}

func TestPublish_ListenerPanicIsolated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewBus(zap.New(core))

	var after []int
	Subscribe(bus, counted, func(int) { panic("listener bug") })
	Subscribe(bus, counted, func(n int) { after = append(after, n) })

	assert.NotPanics(t, func() { Publish(bus, counted, 7) })
	assert.Equal(t, []int{7}, after)

	entries := logs.FilterMessage("event listener panicked").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "counted", entries[0].ContextMap()["topic"])
		assert.Equal(t, "listener bug", entries[0].ContextMap()["panic"])
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)

	var sub Subscription
	calls := 0
	sub = Subscribe(bus, counted, func(int) {
		calls++
		bus.Unsubscribe(sub)
	})

	Publish(bus, counted, 1)
	Publish(bus, counted, 2)
	assert.Equal(t, 1, calls)
}
