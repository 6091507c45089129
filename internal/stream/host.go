package stream

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTickRate 默认宿主节拍
const DefaultTickRate = 60

// Tickable is driven once per host tick.
type Tickable interface {
	Tick() bool
}

// Host is the fixed-cadence scheduler standing in for an engine update
// loop. It only calls Tick, which never waits on I/O.
type Host struct {
	interval time.Duration
	logger   *logrus.Entry

	mu        sync.RWMutex
	tickables map[string]Tickable

	ticks   atomic.Int64
	applied atomic.Int64
}

// NewHost creates a host ticking rate times per second.
func NewHost(rate int) *Host {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return &Host{
		interval:  time.Second / time.Duration(rate),
		logger:    logrus.WithField("component", "host"),
		tickables: make(map[string]Tickable),
	}
}

// Register adds t under name, replacing any previous registration.
func (h *Host) Register(name string, t Tickable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tickables[name] = t
}

// Unregister removes name.
func (h *Host) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tickables, name)
}

// Interval returns the tick period.
func (h *Host) Interval() time.Duration {
	return h.interval
}

// Ticks returns how many ticks have run.
func (h *Host) Ticks() int64 {
	return h.ticks.Load()
}

// Applied returns how many frames were published across all ticks.
func (h *Host) Applied() int64 {
	return h.applied.Load()
}

// TickOnce ticks every registered tickable in name order and returns how
// many published a frame.
func (h *Host) TickOnce() int {
	h.mu.RLock()
	names := make([]string, 0, len(h.tickables))
	for name := range h.tickables {
		names = append(names, name)
	}
	sort.Strings(names)
	targets := make([]Tickable, len(names))
	for i, name := range names {
		targets[i] = h.tickables[name]
	}
	h.mu.RUnlock()

	n := 0
	for i, t := range targets {
		if h.tick(names[i], t) {
			n++
		}
	}
	h.ticks.Add(1)
	h.applied.Add(int64(n))
	return n
}

// tick isolates one tickable so a faulty consumer cannot stop the host.
func (h *Host) tick(name string, t Tickable) (applied bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("stream", name).Errorf("Tick panicked: %v", r)
			applied = false
		}
	}()
	return t.Tick()
}

// Run ticks until ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debugf("Host running at %v per tick", h.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.TickOnce()
		}
	}
}
