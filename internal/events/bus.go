// Package events is a small typed publish/subscribe bus.
//
// Topics are declared as Name[T] values, so a listener registered for a
// topic always receives that topic's payload type:
//
//	var SyncComplete = events.NewName[SyncResult]("syncComplete")
//	sub := events.Subscribe(bus, SyncComplete, func(r SyncResult) { ... })
//	defer bus.Unsubscribe(sub)
//
// Dispatch is synchronous and runs listeners in subscription order. A
// panicking listener is recovered and logged; the remaining listeners
// still run.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Name identifies a topic carrying payloads of type T.
type Name[T any] struct {
	name string
}

// NewName declares a topic.
func NewName[T any](name string) Name[T] {
	return Name[T]{name: name}
}

// String returns the topic name.
func (n Name[T]) String() string { return n.name }

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	topic string
	id    uint64
}

// Topic returns the subscribed topic name.
func (s Subscription) Topic() string { return s.topic }

type listener struct {
	id uint64
	fn func(any)
}

// Bus routes published payloads to subscribed listeners.
// The zero value is not usable; call NewBus.
type Bus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
}

// NewBus returns an empty bus. A nil logger discards listener failures.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:    logger,
		listeners: make(map[string][]listener),
	}
}

// Subscribe registers fn for topic.
func Subscribe[T any](b *Bus, topic Name[T], fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[topic.name] = append(b.listeners[topic.name], listener{
		id: id,
		fn: func(payload any) { fn(payload.(T)) },
	})
	return Subscription{topic: topic.name, id: id}
}

// Publish delivers payload to every listener of topic.
func Publish[T any](b *Bus, topic Name[T], payload T) {
	b.mu.RLock()
	ls := append([]listener(nil), b.listeners[topic.name]...)
	b.mu.RUnlock()

	for _, l := range ls {
		b.dispatch(topic.name, l, payload)
	}
}

func (b *Bus) dispatch(topic string, l listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("topic", topic),
				zap.Uint64("listener", l.id),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	l.fn(payload)
}

// Unsubscribe removes a listener. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[sub.topic]
	for i, l := range ls {
		if l.id == sub.id {
			b.listeners[sub.topic] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of listeners on topic.
func (b *Bus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}
