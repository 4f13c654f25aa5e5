// Package admin implements the optional read-only HTTP surface: health,
// status, and Prometheus metrics. It never touches the handle tables,
// credential store, or connection state machine directly — it only
// reads Snapshot values the tick loop publishes via atomic.Value, the
// same lock-free-read discipline a routing table would use to serve
// concurrent readers without blocking its single writer.
package admin

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable point-in-time view of the running host,
// published once per tick. The zero value (before the first tick
// completes) reports Ticks == 0, which healthzHandler treats as
// not-yet-ready.
type Snapshot struct {
	StartedAt           time.Time
	Ticks               uint64
	ActiveConnections   int
	Capacity            int
	RegistryFingerprint string
	ExtensionSlotCount  int
}

// Publisher holds the current Snapshot behind an atomic.Value so the
// admin server's goroutine can read it without ever locking against the
// tick loop.
type Publisher struct {
	v atomic.Value // holds Snapshot
}

// NewPublisher returns a Publisher pre-loaded with a zero Snapshot so
// Load never sees an empty atomic.Value.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.v.Store(Snapshot{})
	return p
}

// Publish stores the latest Snapshot. Called once per tick.
func (p *Publisher) Publish(s Snapshot) {
	p.v.Store(s)
}

// Load returns the most recently published Snapshot.
func (p *Publisher) Load() Snapshot {
	return p.v.Load().(Snapshot)
}
