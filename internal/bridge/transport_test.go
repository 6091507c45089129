package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/framebridge/internal/codec"
	"github.com/open-beagle/framebridge/internal/frame"
)

// stateRecorder collects transitions reported by a transport.
type stateRecorder struct {
	mu    sync.Mutex
	steps []State
}

func (r *stateRecorder) record(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, to)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.steps...)
}

func (r *stateRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = nil
}

// startPeer runs handle for every accepted connection.
func startPeer(t *testing.T, handle func(conn net.Conn)) Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Config{Host: host, Port: p, ConnectTimeout: time.Second, IOTimeout: 2 * time.Second}
}

// echoPeer answers every request with its image payload.
func echoPeer(conn net.Conn) {
	for {
		req, err := ReadRequest(conn, 0)
		if err != nil {
			return
		}
		if err := WriteResponse(conn, req.Image); err != nil {
			return
		}
	}
}

func closedPortConfig(t *testing.T) Config {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	return Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second}
}

func TestExchangeRefusedConnection(t *testing.T) {
	rec := &stateRecorder{}
	tr := NewTransport(closedPortConfig(t), WithStateChangeFunc(rec.record))

	_, err := tr.Exchange(context.Background(), Request{Image: []byte{1}}, true)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeConnectFailure))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, rec.get())
	assert.Equal(t, StateDisconnected, tr.State())

	// the next cycle retries from scratch
	rec.reset()
	_, err = tr.Exchange(context.Background(), Request{Image: []byte{1}}, true)
	assert.True(t, IsErrorType(err, ErrorTypeConnectFailure))
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, rec.get())
	assert.Equal(t, int64(2), tr.Stats().ConnectFailures)
}

func TestExchangeEncodedFrame(t *testing.T) {
	buf := frame.NewBuffer(100, 100, frame.FormatRGBA)
	for i := range buf.Data {
		buf.Data[i] = byte(i % 251)
	}
	image, err := codec.NewJPEG(75).Encode(buf)
	require.NoError(t, err)

	type received struct {
		imageLen, maskLen uint32
		body              []byte
	}
	got := make(chan received, 1)

	cfg := startPeer(t, func(conn net.Conn) {
		var header [8]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		r := received{
			imageLen: binary.BigEndian.Uint32(header[:4]),
			maskLen:  binary.BigEndian.Uint32(header[4:]),
		}
		r.body = make([]byte, r.imageLen)
		if _, err := io.ReadFull(conn, r.body); err != nil {
			return
		}
		got <- r
		_ = WriteResponse(conn, r.body)
	})

	rec := &stateRecorder{}
	tr := NewTransport(cfg, WithStateChangeFunc(rec.record))
	defer tr.Close()

	payload, err := tr.Exchange(context.Background(), Request{Image: image}, true)
	require.NoError(t, err)

	r := <-got
	assert.Equal(t, uint32(len(image)), r.imageLen)
	assert.Equal(t, uint32(0), r.maskLen)

	decoded, err := codec.NewJPEG(75).Decode(r.body)
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Width)
	assert.Equal(t, 100, decoded.Height)

	assert.Equal(t, image, payload)
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.get())
	assert.Equal(t, StateConnected, tr.State())
}

func TestExchangeWithMask(t *testing.T) {
	masks := make(chan []byte, 1)
	cfg := startPeer(t, func(conn net.Conn) {
		req, err := ReadRequest(conn, 0)
		if err != nil {
			return
		}
		masks <- req.Mask
		_ = WriteResponse(conn, nil)
	})

	tr := NewTransport(cfg)
	defer tr.Close()

	payload, err := tr.Exchange(context.Background(), Request{Image: []byte("img"), Mask: []byte{0, 255, 255, 0}}, true)
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.Equal(t, []byte{0, 255, 255, 0}, <-masks)
}

func TestExchangeNoFrameResponses(t *testing.T) {
	for _, length := range []uint32{0, 0xFFFFFFFF} {
		t.Run(strconv.FormatUint(uint64(length), 16), func(t *testing.T) {
			cfg := startPeer(t, func(conn net.Conn) {
				for {
					if _, err := ReadRequest(conn, 0); err != nil {
						return
					}
					var header [4]byte
					binary.BigEndian.PutUint32(header[:], length)
					if _, err := conn.Write(header[:]); err != nil {
						return
					}
				}
			})

			tr := NewTransport(cfg)
			defer tr.Close()

			for i := 0; i < 2; i++ {
				payload, err := tr.Exchange(context.Background(), Request{Image: []byte{1, 2}}, true)
				require.NoError(t, err)
				assert.Nil(t, payload)
			}
			assert.Equal(t, StateConnected, tr.State())
			assert.Equal(t, int64(1), tr.Stats().Connects)
		})
	}
}

func TestExchangePeerClose(t *testing.T) {
	var mu sync.Mutex
	accepted := 0
	cfg := startPeer(t, func(conn net.Conn) {
		mu.Lock()
		accepted++
		first := accepted == 1
		mu.Unlock()
		if first {
			// read the request, then hang up without answering
			_, _ = ReadRequest(conn, 0)
			return
		}
		echoPeer(conn)
	})

	rec := &stateRecorder{}
	tr := NewTransport(cfg, WithStateChangeFunc(rec.record))
	defer tr.Close()

	_, err := tr.Exchange(context.Background(), Request{Image: []byte("a")}, true)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeIOFailure))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []State{StateConnecting, StateConnected, StateFaulted, StateDisconnected}, rec.get())

	payload, err := tr.Exchange(context.Background(), Request{Image: []byte("b")}, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), payload)
	assert.Equal(t, int64(2), tr.Stats().Connects)
	assert.Equal(t, int64(1), tr.Stats().Faults)
}

func TestExchangePartialReads(t *testing.T) {
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i)
	}
	cfg := startPeer(t, func(conn net.Conn) {
		if _, err := ReadRequest(conn, 0); err != nil {
			return
		}
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], uint32(len(body)))
		msg := append(header[:], body...)
		for len(msg) > 0 {
			n := min(333, len(msg))
			if _, err := conn.Write(msg[:n]); err != nil {
				return
			}
			msg = msg[n:]
			time.Sleep(2 * time.Millisecond)
		}
	})

	tr := NewTransport(cfg)
	defer tr.Close()

	payload, err := tr.Exchange(context.Background(), Request{Image: []byte{9}}, true)
	require.NoError(t, err)
	assert.Equal(t, body, payload)
}

func TestExchangeTruncatedResponse(t *testing.T) {
	cfg := startPeer(t, func(conn net.Conn) {
		if _, err := ReadRequest(conn, 0); err != nil {
			return
		}
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 100)
		_, _ = conn.Write(header[:])
		_, _ = conn.Write(make([]byte, 40))
	})

	tr := NewTransport(cfg)
	defer tr.Close()

	payload, err := tr.Exchange(context.Background(), Request{Image: []byte{9}}, true)
	assert.Nil(t, payload)
	assert.True(t, IsErrorType(err, ErrorTypeIOFailure))
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestExchangeResponseTooLarge(t *testing.T) {
	cfg := startPeer(t, func(conn net.Conn) {
		if _, err := ReadRequest(conn, 0); err != nil {
			return
		}
		_ = WriteResponse(conn, make([]byte, 1000))
	})
	cfg.MaxResponseSize = 100

	tr := NewTransport(cfg)
	defer tr.Close()

	_, err := tr.Exchange(context.Background(), Request{Image: []byte{9}}, true)
	assert.True(t, IsErrorType(err, ErrorTypeIOFailure))
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestExchangeCancellation(t *testing.T) {
	release := make(chan struct{})
	cfg := startPeer(t, func(conn net.Conn) {
		_, _ = ReadRequest(conn, 0)
		<-release
	})
	defer close(release)
	cfg.IOTimeout = 0

	tr := NewTransport(cfg)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	payload, err := tr.Exchange(ctx, Request{Image: []byte{1}}, true)
	assert.Nil(t, payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateDisconnected, tr.State())

	_, err = tr.Exchange(ctx, Request{Image: []byte{1}}, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseDuringExchange(t *testing.T) {
	release := make(chan struct{})
	cfg := startPeer(t, func(conn net.Conn) {
		_, _ = ReadRequest(conn, 0)
		<-release
	})
	defer close(release)
	cfg.IOTimeout = 0

	tr := NewTransport(cfg)
	time.AfterFunc(50*time.Millisecond, func() { _ = tr.Close() })

	_, err := tr.Exchange(context.Background(), Request{Image: []byte{1}}, true)
	assert.True(t, IsErrorType(err, ErrorTypeIOFailure))
	assert.Equal(t, StateDisconnected, tr.State())
	assert.NoError(t, tr.Close())
}

func TestExchangeWithoutWaiting(t *testing.T) {
	requests := make(chan Request, 4)
	cfg := startPeer(t, func(conn net.Conn) {
		for {
			req, err := ReadRequest(conn, 0)
			if err != nil {
				return
			}
			requests <- req
		}
	})

	tr := NewTransport(cfg)
	defer tr.Close()

	for _, b := range []byte{1, 2, 3} {
		payload, err := tr.Exchange(context.Background(), Request{Image: []byte{b}}, false)
		require.NoError(t, err)
		assert.Nil(t, payload)
	}
	for _, b := range []byte{1, 2, 3} {
		select {
		case req := <-requests:
			assert.Equal(t, []byte{b}, req.Image, "requests arrive in send order")
		case <-time.After(2 * time.Second):
			t.Fatal("request not received")
		}
	}
}
