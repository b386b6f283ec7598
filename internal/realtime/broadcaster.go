package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/observability"
)

// Broadcaster delivers events to every connection in a room, best-effort.
// There is no retry and no durability: a missed push is recovered by the
// receiver re-querying history after reconnecting; the store stays the
// source of truth.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics

	// mu serializes publishes so that multiple Publish calls for the same
	// room reach every member in invocation order.
	mu sync.Mutex
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, logger *zap.Logger, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger, metrics: metrics}
}

// Publish fans the event out to the current member snapshot of roomID. A
// failed or dropped delivery is logged and never aborts the remaining
// members, nor raises to the caller.
func (b *Broadcaster) Publish(roomID string, event Event) {
	data, err := event.encode()
	if err != nil {
		b.logger.Error("encode broadcast event",
			zap.String("room", roomID),
			zap.String("event", event.Event),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, conn := range b.registry.MembersOf(roomID) {
		if conn.deliver(data) {
			b.metrics.RecordBroadcast(roomID)
			continue
		}
		b.metrics.RecordBroadcastDrop(roomID)
		b.logger.Warn("dropped event for slow consumer",
			zap.String("room", roomID),
			zap.String("connection_id", conn.ID),
			zap.String("event", event.Event))
	}
}
