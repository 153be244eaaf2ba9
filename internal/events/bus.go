package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/metrics"
)

// Bus fans change events out to in-process subscribers. Publish never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// write path. Delivery across process boundaries belongs to an external
// broadcaster consuming a subscription.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan apptype.ChangeEvent
	nextID int
	closed bool
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[int]chan apptype.ChangeEvent), logger: logger}
}

// Publish delivers the event to every subscriber that has buffer room and
// drops it for the rest.
func (b *Bus) Publish(ev apptype.ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
			metrics.Default().IncEventPublished(ev.Kind)
		default:
			metrics.Default().IncEventDropped(ev.Kind)
			b.logger.Debug("change event dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("kind", ev.Kind),
				zap.String("entity", ev.EntityID))
		}
	}
}

// Subscribe registers a new subscriber with the given buffer size and returns
// its channel plus a cancel func. Cancel closes the channel; a subscriber must
// stop reading only after cancelling.
func (b *Bus) Subscribe(buffer int) (<-chan apptype.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan apptype.ChangeEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close shuts the bus down; all subscriber channels are closed and further
// publishes are silently discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
