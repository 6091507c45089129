package stream

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/framebridge/internal/bridge"
	"github.com/open-beagle/framebridge/internal/capture"
	"github.com/open-beagle/framebridge/internal/frame"
	"github.com/open-beagle/framebridge/internal/sink"
	"github.com/open-beagle/framebridge/internal/skeleton"
)

const (
	frameW = 48
	frameH = 32
)

// peer is a loopback processing service recording what it receives.
type peer struct {
	addr     *net.TCPAddr
	accepted atomic.Int32

	mu       sync.Mutex
	requests []bridge.Request
}

func (p *peer) received() []bridge.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.Request(nil), p.requests...)
}

// startPeer serves connections with respond, which returns the response
// payload for a request, or false to hang until the connection is closed.
func startPeer(t *testing.T, respond func(bridge.Request) ([]byte, bool)) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	p := &peer{addr: ln.Addr().(*net.TCPAddr)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.accepted.Add(1)
			go func() {
				defer conn.Close()
				for {
					req, err := bridge.ReadRequest(conn, 0)
					if err != nil {
						return
					}
					p.mu.Lock()
					p.requests = append(p.requests, req)
					p.mu.Unlock()

					out, ok := respond(req)
					if !ok {
						_, _ = conn.Read(make([]byte, 1))
						return
					}
					if err := bridge.WriteResponse(conn, out); err != nil {
						return
					}
				}
			}()
		}
	}()
	return p
}

func echo(req bridge.Request) ([]byte, bool) { return req.Image, true }

func testSource() capture.Source {
	return capture.NewCameraAdapter(capture.NewPatternProvider(frameW, frameH, capture.PackingStacked), capture.DefaultLimits())
}

func testConfig(p *peer) Config {
	cfg := Config{
		Name:            "left",
		SendInterval:    5 * time.Millisecond,
		RetryInterval:   20 * time.Millisecond,
		WaitForResponse: true,
		Quality:         70,
		Bridge: bridge.Config{
			Host:           "127.0.0.1",
			ConnectTimeout: time.Second,
			IOTimeout:      2 * time.Second,
		},
		Projector: skeleton.ProjectorConfig{Radius: 2},
	}
	if p != nil {
		cfg.Bridge.Port = p.addr.Port
	}
	return cfg
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

// handTracker reports a single wrist in the middle of the frame.
type handTracker struct {
	*skeleton.CameraRig
	hands bool
}

func (h *handTracker) CurrentSkeletonFrame() (*skeleton.Frame, bool) {
	if !h.hands {
		return &skeleton.Frame{}, true
	}
	return &skeleton.Frame{Hands: []skeleton.Hand{{Palm: skeleton.Vec3{Z: 0.4}}}}, true
}

func newHandTracker(hands bool) *handTracker {
	rig := skeleton.NewCameraRig()
	rig.Set(0, skeleton.NewPinholeCamera(frameW, frameH, 40))
	return &handTracker{CameraRig: rig, hands: hands}
}

func stopStream(t *testing.T, s *Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStreamRoundTrip(t *testing.T) {
	p := startPeer(t, echo)
	s, err := New(testConfig(p), Deps{Source: testSource(), Logger: quietLogger()})
	require.NoError(t, err)

	var applied atomic.Int32
	s.Sink().Subscribe(func(a sink.Applied) {
		if a.Frame.Width == frameW && a.Frame.Height == frameH {
			applied.Add(1)
		}
	})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	host := NewHost(200)
	host.Register(s.Name(), s)
	assert.Eventually(t, func() bool {
		host.TickOnce()
		return applied.Load() >= 3
	}, 3*time.Second, 5*time.Millisecond)

	stopStream(t, s)
	assert.False(t, s.IsRunning())

	st := s.Stats()
	assert.NotEmpty(t, st.SessionID)
	assert.GreaterOrEqual(t, st.FramesSent, int64(3))
	assert.GreaterOrEqual(t, st.FramesReceived, int64(3))
	assert.Equal(t, int64(1), st.Transport.Connects)
	assert.Equal(t, "disconnected", st.Transport.State)

	for _, req := range p.received() {
		assert.Empty(t, req.Mask, "mask disabled")
	}

	// the last good frame stays available after stop
	_, ok := s.Sink().CurrentFrame()
	assert.True(t, ok)
}

func TestStreamSendsProjectedMask(t *testing.T) {
	p := startPeer(t, echo)
	cfg := testConfig(p)
	cfg.MaskEnabled = true

	s, err := New(cfg, Deps{Source: testSource(), Tracker: newHandTracker(true), Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(p.received()) >= 2 }, 3*time.Second, 5*time.Millisecond)
	stopStream(t, s)

	req := p.received()[0]
	require.Len(t, req.Mask, frameW*frameH)
	m := &frame.Mask{Width: frameW, Height: frameH, Data: req.Mask}
	assert.Greater(t, m.Coverage(), 0)
	// palm projects to the optical centre, flipped to row h-1-h/2
	assert.Equal(t, frame.MaskOccluded, req.Mask[(frameH-1-frameH/2)*frameW+frameW/2])
	assert.Greater(t, s.Stats().MasksSent, int64(0))
}

func TestStreamOmitsMaskWithoutHands(t *testing.T) {
	p := startPeer(t, echo)
	cfg := testConfig(p)
	cfg.MaskEnabled = true

	s, err := New(cfg, Deps{Source: testSource(), Tracker: newHandTracker(false), Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(p.received()) >= 2 }, 3*time.Second, 5*time.Millisecond)
	stopStream(t, s)

	for _, req := range p.received() {
		assert.Nil(t, req.Mask)
	}
	assert.Equal(t, int64(0), s.Stats().MasksSent)
}

func TestStreamMergesSecondaryMask(t *testing.T) {
	p := startPeer(t, echo)
	cfg := testConfig(p)
	cfg.MaskEnabled = true

	secondary := frame.NewMask(frameW/2, frameH/2)
	secondary.Data[0] = frame.MaskOccluded

	s, err := New(cfg, Deps{
		Source:    testSource(),
		Secondary: maskSourceFunc(func() (*frame.Mask, bool) { return secondary, true }),
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(p.received()) >= 1 }, 3*time.Second, 5*time.Millisecond)
	stopStream(t, s)

	req := p.received()[0]
	require.Len(t, req.Mask, frameW*frameH)
	// upsampled 2x: the top-left 2x2 block is set
	assert.Equal(t, frame.MaskOccluded, req.Mask[0])
	assert.Equal(t, frame.MaskOccluded, req.Mask[frameW+1])
	assert.Equal(t, frame.MaskClear, req.Mask[2])
}

type maskSourceFunc func() (*frame.Mask, bool)

func (f maskSourceFunc) CaptureMask() (*frame.Mask, bool) { return f() }

func TestStreamRetriesRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := testConfig(nil)
	cfg.Bridge.Port = port
	s, err := New(cfg, Deps{Source: testSource(), Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.Stats().ConnectFailures >= 2 }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning(), "connect failures never stop the stream")
	assert.False(t, s.Tick())
	stopStream(t, s)
	assert.Equal(t, int64(0), s.Stats().FramesSent)
}

func TestStreamSkipsWithoutCapture(t *testing.T) {
	p := startPeer(t, echo)
	src := capture.SourceFunc(func() (*frame.Buffer, error) {
		return nil, capture.ErrCaptureUnavailable
	})
	s, err := New(testConfig(p), Deps{Source: src, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.Stats().CaptureMisses >= 3 }, 3*time.Second, 5*time.Millisecond)
	stopStream(t, s)
	assert.Equal(t, int32(0), p.accepted.Load(), "no connection without a frame")
}

func TestStreamStopCancelsInFlightExchange(t *testing.T) {
	p := startPeer(t, func(bridge.Request) ([]byte, bool) { return nil, false })
	cfg := testConfig(p)
	cfg.Bridge.IOTimeout = 0

	s, err := New(cfg, Deps{Source: testSource(), Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(p.received()) == 1 }, 3*time.Second, 5*time.Millisecond)

	start := time.Now()
	stopStream(t, s)
	assert.Less(t, time.Since(start), time.Second)

	st := s.Stats()
	assert.Equal(t, "disconnected", st.Transport.State)
	assert.Equal(t, int64(0), st.FramesReceived)
	assert.False(t, s.Sink().Queue([]byte("late")), "late payloads are rejected after stop")

	// stopping twice is harmless
	stopStream(t, s)
}

func TestStreamRestart(t *testing.T) {
	p := startPeer(t, echo)
	s, err := New(testConfig(p), Deps{Source: testSource(), Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	first := s.Stats().SessionID
	assert.Eventually(t, func() bool { return s.Stats().FramesReceived >= 1 }, 3*time.Second, 5*time.Millisecond)
	stopStream(t, s)

	require.NoError(t, s.Start(context.Background()))
	assert.NotEqual(t, first, s.Stats().SessionID)
	assert.Eventually(t, func() bool { return s.Tick() }, 3*time.Second, 5*time.Millisecond)
	stopStream(t, s)
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.ErrorIs(t, err, ErrNoSource)
}

type countingTickable struct {
	n     int
	panic bool
}

func (c *countingTickable) Tick() bool {
	c.n++
	if c.panic {
		panic("boom")
	}
	return c.n%2 == 0
}

func TestHost(t *testing.T) {
	h := NewHost(0)
	assert.Equal(t, time.Second/DefaultTickRate, h.Interval())

	a := &countingTickable{}
	bad := &countingTickable{panic: true}
	h.Register("a", a)
	h.Register("bad", bad)

	assert.Equal(t, 0, h.TickOnce())
	assert.Equal(t, 1, h.TickOnce())
	assert.Equal(t, 2, a.n)
	assert.Equal(t, 2, bad.n)
	assert.Equal(t, int64(2), h.Ticks())
	assert.Equal(t, int64(1), h.Applied())

	h.Unregister("bad")
	h.TickOnce()
	assert.Equal(t, 2, bad.n)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Run(ctx), context.DeadlineExceeded)
	assert.Greater(t, a.n, 3)
}
