package domain

import (
	"context"
	"time"
)

// StateCache is a read-through cache of timeline state for the presentation
// layer. The engine's in-memory state is authoritative between replays; the
// cache only exists to serve GetState without touching the engine lock.
type StateCache interface {
	Set(ctx context.Context, state TimelineState) error
	Get(ctx context.Context, timelineID string) (TimelineState, error)
	Invalidate(ctx context.Context, timelineID string) error
}

// LockManager provides distributed locking, used to serialize timeline
// mutation across process instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds request rates per key, used by the HTTP layer.
type RateLimiter interface {
	// Allow reports whether one more request for key fits inside the
	// sliding window, counting it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus broadcasts applied flaps to interested consumers (dashboard
// websocket hub, notification dispatch) over pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
