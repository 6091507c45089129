// Package sink holds the latest processed frame returned by the service
// and publishes it to consumers once per host tick.
package sink

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/framebridge/internal/codec"
	"github.com/open-beagle/framebridge/internal/frame"
)

// Applied is published for every successfully decoded payload.
type Applied struct {
	Frame    *frame.Buffer
	Payload  []byte
	Sequence uint64
	At       time.Time
}

// Listener is invoked synchronously from Tick. It must not block.
type Listener func(Applied)

// Stats 帧槽统计
type Stats struct {
	Queued         int64     `json:"queued"`
	Dropped        int64     `json:"dropped"`
	Applied        int64     `json:"applied"`
	DecodeFailures int64     `json:"decode_failures"`
	Rejected       int64     `json:"rejected"`
	LastApplied    time.Time `json:"last_applied,omitempty"`
	Subscribers    int       `json:"subscribers"`
}

// Sink is a single-slot, latest-wins mailbox between the transport worker
// and the host tick.
type Sink struct {
	decoder codec.Decoder
	logger  *logrus.Entry

	mu      sync.Mutex
	pending []byte
	dirty   bool
	closed  bool
	current *Applied
	seq     uint64
	stats   Stats

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64
}

// New creates an open sink decoding payloads with decoder.
func New(decoder codec.Decoder, logger *logrus.Entry) *Sink {
	if logger == nil {
		logger = logrus.WithField("component", "frame-sink")
	}
	return &Sink{
		decoder:   decoder,
		logger:    logger,
		listeners: make(map[uint64]Listener),
	}
}

// Queue stores payload as the latest undelivered frame, replacing any frame
// not yet consumed. It returns false when the sink is closed or the payload
// is empty.
func (s *Sink) Queue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(payload) == 0 {
		s.stats.Rejected++
		return false
	}
	if s.dirty {
		s.stats.Dropped++
	}
	s.pending = payload
	s.dirty = true
	s.stats.Queued++
	return true
}

// Tick consumes the pending payload if any, decodes it and publishes it.
// It returns true when a frame was applied.
func (s *Sink) Tick() bool {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return false
	}
	payload := s.pending
	s.pending = nil
	s.dirty = false
	s.mu.Unlock()

	buf, err := s.decoder.Decode(payload)
	if err != nil {
		s.mu.Lock()
		s.stats.DecodeFailures++
		s.mu.Unlock()
		s.logger.WithError(err).Debugf("Dropped undecodable payload of %d bytes", len(payload))
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.seq++
	applied := Applied{Frame: buf, Payload: payload, Sequence: s.seq, At: time.Now()}
	s.current = &applied
	s.stats.Applied++
	s.stats.LastApplied = applied.At
	s.mu.Unlock()

	for _, l := range s.snapshotListeners() {
		l(applied)
	}
	return true
}

// CurrentFrame returns the last applied frame.
func (s *Sink) CurrentFrame() (*frame.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	return s.current.Frame, true
}

// Current returns the last applied frame together with its encoded payload.
func (s *Sink) Current() (Applied, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Applied{}, false
	}
	return *s.current, true
}

// Subscribe registers l and returns its id for Unsubscribe.
func (s *Sink) Subscribe(l Listener) uint64 {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextID++
	s.listeners[s.nextID] = l
	return s.nextID
}

// Unsubscribe removes a listener. It reports whether id was registered.
func (s *Sink) Unsubscribe(id uint64) bool {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return false
	}
	delete(s.listeners, id)
	return true
}

// snapshotListeners returns listeners in subscription order.
func (s *Sink) snapshotListeners() []Listener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	if len(s.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}

// Close rejects further payloads and discards the pending one. The current
// frame stays available.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	s.dirty = false
}

// Open re-enables queueing after Close.
func (s *Sink) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()

	s.listenersMu.RLock()
	st.Subscribers = len(s.listeners)
	s.listenersMu.RUnlock()
	return st
}
