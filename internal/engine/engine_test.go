package engine

import (
	"context"
	"sync"
	"time"

	"github.com/webpulse/webpulse/internal/store"
)

// fixture bundles an engine over the in-memory store with a frozen,
// test-controlled clock.
type fixture struct {
	mem *store.Memory
	eng *Engine
	now time.Time
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		mem: store.NewMemory(),
		now: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	opts = append(opts, WithClock(func() time.Time { return f.now }))
	f.eng = New(f.mem, f.mem, f.mem, opts...)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) PublishEvent(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) captured() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func strPtr(s string) *string { return &s }
