// Package loopback is a reference processing service speaking the bridge
// protocol from the server side. It stands in for the remote service in
// local runs and tests.
package loopback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/framebridge/internal/bridge"
	"github.com/open-beagle/framebridge/internal/codec"
	"github.com/open-beagle/framebridge/internal/frame"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("loopback: server closed")

// Config 参考服务配置
type Config struct {
	Address    string
	Quality    int
	MaxPayload int
	DebugDir   string
	DebugEvery int
}

// Stats 参考服务统计
type Stats struct {
	Connections   int64 `json:"connections"`
	Active        int64 `json:"active"`
	Frames        int64 `json:"frames"`
	MasksApplied  int64 `json:"masks_applied"`
	MasksIgnored  int64 `json:"masks_ignored"`
	Echoed        int64 `json:"echoed"`
	ProcessErrors int64 `json:"process_errors"`
}

// Server accepts bridge clients and answers every request with one
// processed frame.
type Server struct {
	config    Config
	processor Processor
	codec     *codec.JPEG
	dumper    *DebugDumper
	logger    *logrus.Entry

	// processMu serializes Processor calls across connections
	processMu sync.Mutex

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup

	connections   atomic.Int64
	active        atomic.Int64
	frames        atomic.Int64
	masksApplied  atomic.Int64
	masksIgnored  atomic.Int64
	echoed        atomic.Int64
	processErrors atomic.Int64
}

// NewServer 创建参考服务
func NewServer(cfg Config, processor Processor, logger *logrus.Entry) *Server {
	if processor == nil {
		processor = NewOverlayProcessor()
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = bridge.DefaultMaxPayload
	}
	if cfg.Quality == 0 {
		cfg.Quality = 90
	}
	if logger == nil {
		logger = logrus.WithField("component", "loopback")
	}
	return &Server{
		config:    cfg,
		processor: processor,
		codec:     codec.NewJPEG(cfg.Quality),
		dumper:    NewDebugDumper(cfg.DebugDir, cfg.DebugEvery),
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("loopback: listen on %s: %w", s.config.Address, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Infof("Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds and serves in the background until ctx is cancelled or Close
// is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		if err := s.Serve(ctx); err != nil && !errors.Is(err, ErrServerClosed) {
			s.logger.Errorf("Serve stopped: %v", err)
		}
	}()
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("loopback: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			return fmt.Errorf("loopback: accept: %w", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

// Close stops accepting, closes every connection and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections:   s.connections.Load(),
		Active:        s.active.Load(),
		Frames:        s.frames.Load(),
		MasksApplied:  s.masksApplied.Load(),
		MasksIgnored:  s.masksIgnored.Load(),
		Echoed:        s.echoed.Load(),
		ProcessErrors: s.processErrors.Load(),
	}
}

func (s *Server) handleConn(conn net.Conn) {
	id := s.connections.Add(1)
	s.active.Add(1)
	logger := s.logger.WithFields(logrus.Fields{"conn": id, "remote": conn.RemoteAddr().String()})
	logger.Info("Client connected")

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.active.Add(-1)
		s.wg.Done()
	}()

	r := bufio.NewReaderSize(conn, 64*1024)
	w := bufio.NewWriterSize(conn, 64*1024)
	prefix := fmt.Sprintf("c%d_", id)

	for index := 0; ; index++ {
		req, err := bridge.ReadRequest(r, s.config.MaxPayload)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("Client disconnected")
			} else {
				logger.Warnf("Client dropped: %v", err)
			}
			return
		}
		if len(req.Image) == 0 {
			logger.Warn("Invalid frame length 0, closing connection")
			return
		}

		start := time.Now()
		out, echoed := s.processFrame(req, index, prefix, logger)
		if err := bridge.WriteResponse(w, out); err != nil {
			logger.Warnf("Write failed: %v", err)
			return
		}
		if err := w.Flush(); err != nil {
			logger.Warnf("Write failed: %v", err)
			return
		}
		s.frames.Add(1)
		if echoed {
			s.echoed.Add(1)
		}

		total := time.Since(start)
		logger.Debugf("Frame %d: image=%d bytes mask=%d bytes total=%v", index, len(req.Image), len(req.Mask), total)
	}
}

// processFrame returns the response payload and whether it is the raw input
// echoed back.
func (s *Server) processFrame(req bridge.Request, index int, prefix string, logger *logrus.Entry) ([]byte, bool) {
	img, err := s.codec.Decode(req.Image)
	if err != nil {
		logger.Warnf("Decode failed, echoing raw payload: %v", err)
		return req.Image, true
	}

	var mask *frame.Mask
	if len(req.Mask) > 0 {
		if len(req.Mask) == img.Width*img.Height {
			mask = &frame.Mask{Width: img.Width, Height: img.Height, Data: req.Mask}
			s.masksApplied.Add(1)
		} else {
			s.masksIgnored.Add(1)
			logger.Debugf("Ignoring mask of %d bytes for %dx%d image", len(req.Mask), img.Width, img.Height)
		}
	}

	var orig *frame.Buffer
	dump := s.dumper.ShouldDump(index)
	if dump {
		orig = img.Clone()
	}

	s.processMu.Lock()
	processed, err := s.processor.Process(img, mask)
	s.processMu.Unlock()
	if err != nil {
		s.processErrors.Add(1)
		logger.Warnf("Processing failed, returning input: %v", err)
		processed = img
	}

	if dump {
		if err := s.dumper.Dump(prefix, index, orig, mask, processed); err != nil {
			logger.Warnf("Debug dump failed: %v", err)
		}
	}

	encoded, err := s.codec.Encode(processed)
	if err != nil {
		logger.Warnf("Encode failed, echoing raw payload: %v", err)
		return req.Image, true
	}
	return encoded, false
}
