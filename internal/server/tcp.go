package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/MostlyBuilds/op25-radio-stream/internal/config"
	"github.com/MostlyBuilds/op25-radio-stream/internal/metrics"
	"github.com/MostlyBuilds/op25-radio-stream/internal/stream"
)

// acceptTimeout bounds each accept wait so shutdown is observed promptly.
const acceptTimeout = 1 * time.Second

// StreamServer serves the continuous PCM stream over TCP to exactly one
// consumer at a time. Additional connection attempts queue in the listen
// backlog until the current session ends; each accepted session gets fresh
// buffers and priming state from the pacer.
type StreamServer struct {
	cfg     *config.OutputConfig
	pacer   *stream.Pacer
	logger  *slog.Logger
	metrics *metrics.Metrics

	listener *net.TCPListener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	consumer string // remote address of the active consumer, "" when idle
	sessions uint64
}

// NewStreamServer creates a new stream server instance
func NewStreamServer(cfg *config.OutputConfig, pacer *stream.Pacer, logger *slog.Logger, m *metrics.Metrics) *StreamServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamServer{
		cfg:     cfg,
		pacer:   pacer,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the TCP listener and begins accepting consumers.
func (s *StreamServer) Start() error {
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve TCP address: %w", err)
	}

	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}
	s.listener = listener

	s.logger.Info("Stream server started, waiting for consumer",
		slog.String("address", listener.Addr().String()),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop shuts the server down: the accept wait and any active session end
// promptly, with all sockets closed on the way out.
func (s *StreamServer) Stop() error {
	s.logger.Info("Stopping stream server...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	s.mu.RLock()
	sessions := s.sessions
	s.mu.RUnlock()

	s.logger.Info("Stream server stopped", slog.Uint64("sessions_served", sessions))
	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *StreamServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Consumer returns the remote address of the active consumer, or "" when
// no session is running.
func (s *StreamServer) Consumer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumer
}

// acceptLoop serves consumers serially: one session at a time, back to
// accepting when it ends.
func (s *StreamServer) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.listener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			s.logger.Error("Failed to set accept deadline", slog.String("error", err.Error()))
			return
		}

		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
				continue
			}
		}

		s.serve(conn)
	}
}

// serve runs one streaming session to completion.
func (s *StreamServer) serve(conn *net.TCPConn) {
	peer := conn.RemoteAddr().String()

	// Frames are small and strictly paced; coalescing them adds latency
	// for nothing.
	if err := conn.SetNoDelay(true); err != nil {
		s.logger.Debug("Failed to set TCP_NODELAY", slog.String("error", err.Error()))
	}

	s.logger.Info("Consumer connected", slog.String("remote_addr", peer))
	s.metrics.RecordSessionStart()

	s.mu.Lock()
	s.consumer = peer
	s.sessions++
	s.mu.Unlock()

	started := time.Now()

	// A stalled consumer can block a write past any tick bound; closing
	// the socket on shutdown unblocks it.
	stopWatch := context.AfterFunc(s.ctx, func() {
		conn.Close()
	})

	err := s.pacer.Stream(s.ctx, conn)

	stopWatch()
	if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		s.logger.Debug("Error closing consumer connection", slog.String("error", cerr.Error()))
	}

	duration := time.Since(started)

	s.mu.Lock()
	s.consumer = ""
	s.mu.Unlock()
	s.metrics.RecordSessionEnd(duration.Seconds())

	switch {
	case s.ctx.Err() != nil:
		s.logger.Info("Session ended by shutdown",
			slog.String("remote_addr", peer),
			slog.Duration("duration", duration),
		)
	case err == nil:
		s.logger.Info("Session ended",
			slog.String("remote_addr", peer),
			slog.Duration("duration", duration),
		)
	case isDisconnect(err):
		s.logger.Info("Consumer disconnected",
			slog.String("remote_addr", peer),
			slog.Duration("duration", duration),
		)
	default:
		s.logger.Error("Session failed",
			slog.String("remote_addr", peer),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
	}

	if s.ctx.Err() == nil {
		s.logger.Info("Waiting for next consumer connection...")
	}
}

// isDisconnect reports whether err is an ordinary peer disconnect rather
// than an unexpected I/O failure.
func isDisconnect(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
