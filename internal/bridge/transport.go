// Package bridge implements the client side of the frame bridge protocol:
// a single persistent TCP connection per stream carrying length-prefixed
// request/response exchanges.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultIOTimeout      = 5 * time.Second
)

// Dialer opens connections; *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config 传输配置
type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	// IOTimeout bounds one full exchange on a live connection; 0 disables it.
	IOTimeout time.Duration
	// MaxResponseSize larger responses are a protocol error; 0 disables it.
	MaxResponseSize int
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TransportStats 传输统计
type TransportStats struct {
	State           string    `json:"state"`
	Address         string    `json:"address"`
	Connects        int64     `json:"connects"`
	ConnectFailures int64     `json:"connect_failures"`
	Faults          int64     `json:"faults"`
	Exchanges       int64     `json:"exchanges"`
	BytesSent       int64     `json:"bytes_sent"`
	BytesReceived   int64     `json:"bytes_received"`
	ConnectedSince  time.Time `json:"connected_since,omitempty"`
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithStateChangeFunc registers a transition observer.
func WithStateChangeFunc(fn StateChangeFunc) Option {
	return func(t *Transport) { t.onStateChange = fn }
}

// Transport owns one connection to the processing service. Only one
// exchange is in flight at a time; Close may be called concurrently with an
// exchange and tears the connection down immediately.
type Transport struct {
	config        Config
	dialer        Dialer
	logger        *logrus.Entry
	onStateChange StateChangeFunc

	// exchangeMu serializes exchanges
	exchangeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           net.Conn
	reader         *bufio.Reader
	writer         *bufio.Writer
	connectedSince time.Time

	connects        atomic.Int64
	connectFailures atomic.Int64
	faults          atomic.Int64
	exchanges       atomic.Int64
	bytesSent       atomic.Int64
	bytesReceived   atomic.Int64
}

// NewTransport creates a disconnected transport.
func NewTransport(config Config, opts ...Option) *Transport {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	t := &Transport{
		config: config,
		dialer: &net.Dialer{},
		logger: logrus.WithField("component", "bridge-transport"),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() TransportStats {
	t.mu.Lock()
	state, since := t.state, t.connectedSince
	t.mu.Unlock()

	return TransportStats{
		State:           state.String(),
		Address:         t.config.Address(),
		Connects:        t.connects.Load(),
		ConnectFailures: t.connectFailures.Load(),
		Faults:          t.faults.Load(),
		Exchanges:       t.exchanges.Load(),
		BytesSent:       t.bytesSent.Load(),
		BytesReceived:   t.bytesReceived.Load(),
		ConnectedSince:  since,
	}
}

// Exchange sends one request and, when waitResponse is set, reads one
// response. A nil payload with a nil error means the service produced no
// output (or no response was requested).
//
// Connect failures return an ErrorTypeConnectFailure error and leave the
// transport Disconnected; the caller waits a retry interval. I/O failures
// pass through Faulted to Disconnected and return ErrorTypeIOFailure.
// Cancelling ctx closes the connection at once and discards any response.
func (t *Transport) Exchange(ctx context.Context, req Request, waitResponse bool) ([]byte, error) {
	t.exchangeMu.Lock()
	defer t.exchangeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if t.config.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.config.IOTimeout))
	} else {
		_ = conn.SetDeadline(time.Time{})
	}

	t.mu.Lock()
	reader, writer := t.reader, t.writer
	t.mu.Unlock()
	if reader == nil || writer == nil {
		return nil, t.fault(ctx, conn, "write", net.ErrClosed)
	}

	if err := WriteRequest(writer, req); err != nil {
		return nil, t.fault(ctx, conn, "write", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, t.fault(ctx, conn, "flush", err)
	}
	t.bytesSent.Add(int64(RequestHeaderLen + len(req.Image) + len(req.Mask)))
	t.exchanges.Add(1)

	if !waitResponse {
		return nil, nil
	}

	payload, err := ReadResponse(reader, t.config.MaxResponseSize)
	if err != nil {
		return nil, t.fault(ctx, conn, "read", err)
	}
	t.bytesReceived.Add(int64(ResponseHeaderLen + len(payload)))

	// a response that raced with cancellation is discarded
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Close tears down the connection if any. It is safe to call at any time,
// including while an exchange is blocked on I/O.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	from := t.state
	t.clearLocked()
	t.state = StateDisconnected
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if from != StateDisconnected {
		t.notify(from, StateDisconnected)
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (t *Transport) ensureConnected(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	if t.state == StateConnected && t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	addr := t.config.Address()
	t.transition(StateDisconnected, StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancel()
	conn, err := t.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		t.connectFailures.Add(1)
		t.transition(StateConnecting, StateDisconnected)
		t.logger.WithError(err).Debugf("Connect to %s failed", addr)
		return nil, NewConnectError("transport", addr, err)
	}

	t.mu.Lock()
	if t.state != StateConnecting || ctx.Err() != nil {
		// closed or cancelled while dialing
		t.mu.Unlock()
		_ = conn.Close()
		t.transition(StateConnecting, StateDisconnected)
		cause := ctx.Err()
		if cause == nil {
			cause = net.ErrClosed
		}
		return nil, NewConnectError("transport", addr, cause)
	}
	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, 64*1024)
	t.writer = bufio.NewWriterSize(conn, 64*1024)
	t.connectedSince = time.Now()
	t.state = StateConnected
	t.mu.Unlock()

	t.connects.Add(1)
	t.notify(StateConnecting, StateConnected)
	t.logger.Debugf("Connected to %s", addr)
	return conn, nil
}

// fault tears the connection down fully and reports the I/O failure.
func (t *Transport) fault(ctx context.Context, conn net.Conn, operation string, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = ctxErr
	}

	t.mu.Lock()
	owned := t.conn == conn
	if owned {
		t.clearLocked()
		t.state = StateFaulted
	}
	t.mu.Unlock()
	_ = conn.Close()

	if owned {
		t.faults.Add(1)
		t.notify(StateConnected, StateFaulted)
		t.transition(StateFaulted, StateDisconnected)
		t.logger.WithError(cause).Debugf("Connection faulted during %s", operation)
	}
	return NewIOError("transport", operation, cause)
}

func (t *Transport) clearLocked() {
	t.conn = nil
	t.reader = nil
	t.writer = nil
	t.connectedSince = time.Time{}
}

// transition moves from -> to if the transport is still in from.
func (t *Transport) transition(from, to State) {
	t.mu.Lock()
	if t.state != from || !CanTransition(from, to) {
		t.mu.Unlock()
		return
	}
	t.state = to
	t.mu.Unlock()
	t.notify(from, to)
}

func (t *Transport) notify(from, to State) {
	t.logger.Tracef("State %s -> %s", from, to)
	if t.onStateChange != nil {
		t.onStateChange(from, to)
	}
}
