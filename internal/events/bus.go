package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// subscriberCap is the buffer of each channel subscriber. Publishing never
// blocks; events for a full subscriber are dropped.
const subscriberCap = 128

// Message wraps an event with delivery metadata.
type Message struct {
	ID      string    `json:"id"`
	Seq     int64     `json:"seq"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload Event     `json:"payload"`
}

type handlerSub struct {
	id    int64
	kinds map[Kind]bool
	fn    func(Message)
}

// Bus fans events out to channel subscribers and kind handlers.
type Bus struct {
	logger logrus.FieldLogger
	seq    int64
	nextID int64

	listenerMu sync.RWMutex
	listeners  map[chan Message]struct{}

	handlerMu sync.RWMutex
	handlers  []handlerSub
}

// NewBus creates an empty bus.
func NewBus(logger logrus.FieldLogger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		logger:    logger.WithField("component", "events"),
		listeners: make(map[chan Message]struct{}),
	}
}

// Subscribe returns a channel receiving every event and a cancel func that
// closes it.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberCap)

	b.listenerMu.Lock()
	b.listeners[ch] = struct{}{}
	b.listenerMu.Unlock()

	cancel := func() {
		b.listenerMu.Lock()
		if _, ok := b.listeners[ch]; ok {
			delete(b.listeners, ch)
			close(ch)
		}
		b.listenerMu.Unlock()
	}
	return ch, cancel
}

// Handle registers fn for the given kinds, or for every kind when none are
// given. fn runs on the publishing goroutine and must not block. The returned
// func unregisters it.
func (b *Bus) Handle(fn func(Message), kinds ...Kind) func() {
	sub := handlerSub{id: atomic.AddInt64(&b.nextID, 1), fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.handlerMu.Lock()
	b.handlers = append(b.handlers, sub)
	b.handlerMu.Unlock()

	return func() {
		b.handlerMu.Lock()
		defer b.handlerMu.Unlock()
		for i, h := range b.handlers {
			if h.id == sub.id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	msg := Message{
		ID:      uuid.NewString(),
		Seq:     atomic.AddInt64(&b.seq, 1),
		Kind:    e.Kind(),
		Time:    time.Now().UTC(),
		Payload: e,
	}

	b.handlerMu.RLock()
	handlers := make([]handlerSub, len(b.handlers))
	copy(handlers, b.handlers)
	b.handlerMu.RUnlock()

	for _, h := range handlers {
		if h.kinds == nil || h.kinds[msg.Kind] {
			h.fn(msg)
		}
	}

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	for ch := range b.listeners {
		select {
		case ch <- msg:
		default:
			b.logger.WithField("kind", msg.Kind).Warn("subscriber full, dropping event")
		}
	}
}
