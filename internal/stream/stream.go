// Package stream runs one bridge stream: a worker goroutine cycling
// capture, mask, encode and exchange, plus the tick hook that publishes
// returned frames.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/framebridge/internal/bridge"
	"github.com/open-beagle/framebridge/internal/capture"
	"github.com/open-beagle/framebridge/internal/codec"
	"github.com/open-beagle/framebridge/internal/frame"
	"github.com/open-beagle/framebridge/internal/mask"
	"github.com/open-beagle/framebridge/internal/metrics"
	"github.com/open-beagle/framebridge/internal/sink"
	"github.com/open-beagle/framebridge/internal/skeleton"
)

const (
	DefaultSendInterval  = 33 * time.Millisecond
	DefaultRetryInterval = time.Second
)

var (
	// ErrAlreadyRunning Start called on a running stream
	ErrAlreadyRunning = errors.New("stream: already running")
	// ErrNoSource the stream has no capture source
	ErrNoSource = errors.New("stream: no capture source")
)

// Config 单路流配置
type Config struct {
	Name            string
	SendInterval    time.Duration
	RetryInterval   time.Duration
	WaitForResponse bool
	MaskEnabled     bool
	Quality         int
	Bridge          bridge.Config
	Projector       skeleton.ProjectorConfig
}

// Deps are the collaborators of a stream. Only Source is required.
type Deps struct {
	Source  capture.Source
	Tracker skeleton.Tracker
	// Secondary is the geometry-rendered mask source.
	Secondary mask.Source
	Encoder   codec.Encoder
	Decoder   codec.Decoder
	Sink      *sink.Sink
	Dialer    bridge.Dialer
	Metrics   *metrics.BridgeMetrics
	Logger    *logrus.Entry
}

// Stats 流统计快照
type Stats struct {
	Name            string                 `json:"name"`
	Running         bool                   `json:"running"`
	SessionID       string                 `json:"session_id,omitempty"`
	StartedAt       time.Time              `json:"started_at,omitempty"`
	Cycles          int64                  `json:"cycles"`
	FramesSent      int64                  `json:"frames_sent"`
	FramesReceived  int64                  `json:"frames_received"`
	EmptyResponses  int64                  `json:"empty_responses"`
	CaptureMisses   int64                  `json:"capture_misses"`
	EncodeFailures  int64                  `json:"encode_failures"`
	ConnectFailures int64                  `json:"connect_failures"`
	IOFailures      int64                  `json:"io_failures"`
	MasksSent       int64                  `json:"masks_sent"`
	LastRoundTrip   time.Duration          `json:"last_round_trip_ns"`
	Transport       *bridge.TransportStats `json:"transport,omitempty"`
	Sink            sink.Stats             `json:"sink"`
}

// Stream 帧桥接流
type Stream struct {
	config Config
	deps   Deps
	sink   *sink.Sink
	logger *logrus.Entry

	// maskArena holds the projected skeleton mask between cycles
	maskArena *frame.Arena
	projector *skeleton.Projector

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	transport *bridge.Transport
	sessionID string
	startedAt time.Time

	lastDropped atomic.Int64

	cycles          atomic.Int64
	framesSent      atomic.Int64
	framesReceived  atomic.Int64
	emptyResponses  atomic.Int64
	captureMisses   atomic.Int64
	encodeFailures  atomic.Int64
	connectFailures atomic.Int64
	ioFailures      atomic.Int64
	masksSent       atomic.Int64
	lastRoundTrip   atomic.Int64
}

// New creates a stopped stream.
func New(config Config, deps Deps) (*Stream, error) {
	if deps.Source == nil {
		return nil, ErrNoSource
	}
	if config.SendInterval <= 0 {
		config.SendInterval = DefaultSendInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Quality == 0 {
		config.Quality = codec.DefaultQuality
	}

	jpeg := codec.NewJPEG(config.Quality)
	if deps.Encoder == nil {
		deps.Encoder = jpeg
	}
	if deps.Decoder == nil {
		deps.Decoder = jpeg
	}
	if deps.Logger == nil {
		deps.Logger = logrus.WithField("component", "stream")
	}
	logger := deps.Logger.WithField("stream", config.Name)

	s := &Stream{
		config:    config,
		deps:      deps,
		logger:    logger,
		maskArena: frame.NewArena(),
	}

	s.sink = deps.Sink
	if s.sink == nil {
		s.sink = sink.New(deps.Decoder, logger.WithField("component", "frame-sink"))
	}
	s.sink.Subscribe(func(sink.Applied) {
		deps.Metrics.IncApplied(config.Name)
	})

	if deps.Tracker != nil {
		s.projector = skeleton.NewProjector(deps.Tracker, config.Projector)
	}
	return s, nil
}

// Name returns the stream name.
func (s *Stream) Name() string {
	return s.config.Name
}

// Sink returns the frame sink consumers subscribe to.
func (s *Stream) Sink() *sink.Sink {
	return s.sink
}

// IsRunning 检查流是否运行
func (s *Stream) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the worker. The stream runs until Stop or until ctx is
// cancelled.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	name := s.config.Name
	opts := []bridge.Option{
		bridge.WithLogger(s.logger.WithField("component", "bridge-transport")),
		bridge.WithStateChangeFunc(func(_, to bridge.State) {
			s.deps.Metrics.SetConnectionState(name, int(to))
			if to == bridge.StateConnected {
				s.deps.Metrics.IncConnects(name)
			}
		}),
	}
	if s.deps.Dialer != nil {
		opts = append(opts, bridge.WithDialer(s.deps.Dialer))
	}
	tr := bridge.NewTransport(s.config.Bridge, opts...)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.transport = tr
	s.sessionID = uuid.NewString()
	s.startedAt = time.Now()
	s.done = make(chan struct{})
	s.running = true
	s.sink.Open()

	logger := s.logger.WithField("session", s.sessionID)
	go s.run(workerCtx, tr, logger, s.done)

	s.deps.Metrics.SetActive(name, true)
	logger.Infof("Stream started, bridging to %s every %v", s.config.Bridge.Address(), s.config.SendInterval)
	return nil
}

// Tick publishes the latest returned frame, if any. It never blocks on I/O
// and is meant to be driven by the host scheduler.
func (s *Stream) Tick() bool {
	applied := s.sink.Tick()

	st := s.sink.Stats()
	if prev := s.lastDropped.Swap(st.Dropped); st.Dropped > prev {
		s.deps.Metrics.AddDropped(s.config.Name, st.Dropped-prev)
	}
	return applied
}

// Stop cancels the in-flight cycle, closes the connection, waits for the
// worker and releases scratch buffers. A response arriving after Stop is
// discarded.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	_ = s.transport.Close()
	s.sink.Close()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stream %s: waiting for worker: %w", s.config.Name, ctx.Err())
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.maskArena.Release()
	if r, ok := s.deps.Source.(capture.Releaser); ok {
		r.Release()
	}
	s.deps.Metrics.SetActive(s.config.Name, false)
	s.logger.Info("Stream stopped")
	return nil
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Name:      s.config.Name,
		Running:   s.running,
		SessionID: s.sessionID,
		StartedAt: s.startedAt,
	}
	tr := s.transport
	s.mu.Unlock()

	if tr != nil {
		ts := tr.Stats()
		st.Transport = &ts
	}
	st.Cycles = s.cycles.Load()
	st.FramesSent = s.framesSent.Load()
	st.FramesReceived = s.framesReceived.Load()
	st.EmptyResponses = s.emptyResponses.Load()
	st.CaptureMisses = s.captureMisses.Load()
	st.EncodeFailures = s.encodeFailures.Load()
	st.ConnectFailures = s.connectFailures.Load()
	st.IOFailures = s.ioFailures.Load()
	st.MasksSent = s.masksSent.Load()
	st.LastRoundTrip = time.Duration(s.lastRoundTrip.Load())
	st.Sink = s.sink.Stats()
	return st
}

func (s *Stream) run(ctx context.Context, tr *bridge.Transport, logger *logrus.Entry, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := s.cycle(ctx, tr, logger)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}

// cycle runs capture -> mask -> encode -> exchange -> queue once and
// returns how long to wait before the next cycle.
func (s *Stream) cycle(ctx context.Context, tr *bridge.Transport, logger *logrus.Entry) time.Duration {
	name := s.config.Name
	start := time.Now()
	s.cycles.Add(1)

	buf, err := s.deps.Source.CaptureFrame()
	if err != nil {
		s.captureMisses.Add(1)
		s.deps.Metrics.ObserveFailure(name, metrics.FailureCaptureUnavailable)
		logger.WithError(err).Trace("No frame captured")
		return s.config.SendInterval
	}

	var maskData []byte
	if s.config.MaskEnabled {
		if m := s.buildMask(buf.Width, buf.Height); m != nil {
			maskData = m.Data
			s.masksSent.Add(1)
			s.deps.Metrics.SetMaskCoverage(name, float64(m.Coverage())/float64(len(m.Data)))
		}
	}

	image, err := s.deps.Encoder.Encode(buf)
	if err != nil || len(image) == 0 {
		s.encodeFailures.Add(1)
		s.deps.Metrics.ObserveFailure(name, metrics.FailureEncode)
		logger.WithError(bridge.NewEncodeError("stream", err)).Warn("Skipping cycle")
		return s.config.SendInterval
	}

	sentAt := time.Now()
	payload, err := tr.Exchange(ctx, bridge.Request{Image: image, Mask: maskData}, s.config.WaitForResponse)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		if bridge.IsRetryable(err) {
			s.connectFailures.Add(1)
			s.deps.Metrics.ObserveFailure(name, metrics.FailureConnect)
			logger.WithError(err).Debugf("Connect failed, retrying in %v", s.config.RetryInterval)
			return s.config.RetryInterval
		}
		s.ioFailures.Add(1)
		s.deps.Metrics.ObserveFailure(name, metrics.FailureIO)
		logger.WithError(err).Warn("Connection lost, reconnecting next cycle")
		return s.config.SendInterval
	}

	rtt := time.Since(sentAt)
	s.lastRoundTrip.Store(int64(rtt))
	s.framesSent.Add(1)
	received := 0
	if s.config.WaitForResponse {
		received = bridge.ResponseHeaderLen + len(payload)
	}
	s.deps.Metrics.RecordExchange(name, bridge.RequestHeaderLen+len(image)+len(maskData), received, rtt, payload != nil)

	if payload == nil {
		if s.config.WaitForResponse {
			s.emptyResponses.Add(1)
		}
	} else if ctx.Err() == nil {
		s.framesReceived.Add(1)
		s.sink.Queue(payload)
	}

	s.deps.Metrics.ObserveCycle(name, time.Since(start))
	logger.Tracef("Cycle done: %d byte image, %d byte mask, rtt %v", len(image), len(maskData), rtt)
	return s.config.SendInterval
}

// buildMask merges the skeleton mask and the secondary mask at the
// transmitted frame size. It returns nil when neither is available.
func (s *Stream) buildMask(width, height int) *frame.Mask {
	var skel *frame.Mask
	if s.projector != nil {
		if f, ok := s.deps.Tracker.CurrentSkeletonFrame(); ok {
			m := s.maskArena.Mask("skeleton", width, height)
			if s.projector.Project(f, m) {
				skel = m
			}
			ps := s.projector.Stats()
			s.deps.Metrics.AddProjectionSkips(s.config.Name, ps.PointsSkipped+ps.SegmentsSkipped)
		}
	}

	var secondary *frame.Mask
	if s.deps.Secondary != nil {
		if m, ok := s.deps.Secondary.CaptureMask(); ok {
			secondary = m
		}
	}

	return mask.Composite(skel, secondary, width, height)
}
