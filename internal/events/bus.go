package events

import (
	"log"
	"sync"
	"time"

	"github.com/scriptreel/api/internal/model"
)

// Handler receives published events. Delivery is synchronous and
// at-most-once; handlers must not block for long.
type Handler func(model.StageEvent)

// Bus fans stage lifecycle events out to its subscribers. It is an explicit
// instance passed by reference to the orchestrator and runner; the durable
// log writer and the websocket hub subscribe to it at wiring time.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber. A failing subscriber
// never disturbs the publishing pipeline stage.
func (b *Bus) Publish(ev model.StageEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("event subscriber panic: %v", r)
				}
			}()
			h(ev)
		}()
	}
}
