package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/MostlyBuilds/op25-radio-stream/internal/audio"
	"github.com/MostlyBuilds/op25-radio-stream/internal/metrics"
)

// maxDatagram is the largest UDP payload the source will accept.
const maxDatagram = 65535

// queueCapacity sizes the datagram channel. The real memory bound is
// maxQueueBytes; the count bound only keeps the channel allocation fixed.
const queueCapacity = 1024

// Source receives raw s16le PCM datagrams on one UDP port. A background
// goroutine moves datagrams from the socket into a bounded queue; Drain
// empties the queue into a session buffer without blocking. The queue plays
// the role of the OS socket queue: it holds at most maxQueueBytes of audio,
// shedding newest datagrams past that, so memory stays capped even when no
// consumer is draining.
type Source struct {
	name          string
	conn          *net.UDPConn
	logger        *slog.Logger
	metrics       *metrics.Metrics
	maxQueueBytes int

	packets chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	received    uint64
	dropped     uint64
	bytesIn     uint64
	queuedBytes int
	lastError   string
}

// Listen binds a UDP socket for the named source and starts its receive
// goroutine. name is used for logging and metric labels; maxQueueBytes is
// the safety cap on queued audio.
func Listen(name, bindAddress string, port, readBuffer, maxQueueBytes int, logger *slog.Logger, m *metrics.Metrics) (*Source, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", bindAddress, port))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address for %s source: %w", name, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP for %s source: %w", name, err)
	}

	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			logger.Warn("Failed to set UDP read buffer size",
				slog.String("source", name),
				slog.Int("read_buffer", readBuffer),
				slog.String("error", err.Error()),
			)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		name:          name,
		conn:          conn,
		logger:        logger,
		metrics:       m,
		maxQueueBytes: maxQueueBytes,
		packets:       make(chan []byte, queueCapacity),
		ctx:           ctx,
		cancel:        cancel,
	}

	s.logger.Info("UDP source listening",
		slog.String("source", name),
		slog.String("address", conn.LocalAddr().String()),
	)

	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// Name returns the source name used in logs and metric labels.
func (s *Source) Name() string {
	return s.name
}

// LocalAddr returns the bound UDP address.
func (s *Source) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// receiveLoop moves datagrams from the socket into the bounded queue until
// the source is closed.
func (s *Source) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, maxDatagram)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Bounded deadline so shutdown is observed even when the port
		// goes quiet.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline",
				slog.String("source", s.name),
				slog.String("error", err.Error()),
			)
			return
		}

		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram",
					slog.String("source", s.name),
					slog.String("error", err.Error()),
				)
				s.mu.Lock()
				s.lastError = err.Error()
				s.mu.Unlock()
				continue
			}
		}
		if n == 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])

		if s.enqueue(packet) {
			s.metrics.RecordDatagram(s.name, n)
			s.mu.Lock()
			s.received++
			s.bytesIn += uint64(n)
			s.mu.Unlock()
		} else {
			// No consumer is draining; shedding the newest datagram here
			// keeps queued audio under the safety cap.
			s.metrics.RecordDatagramDropped(s.name)
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
}

// enqueue queues packet unless doing so would push queued audio past the
// byte ceiling or the channel capacity.
func (s *Source) enqueue(packet []byte) bool {
	n := len(packet)

	s.mu.Lock()
	if s.queuedBytes+n > s.maxQueueBytes {
		s.mu.Unlock()
		return false
	}
	s.queuedBytes += n
	s.mu.Unlock()

	select {
	case s.packets <- packet:
		return true
	default:
		s.mu.Lock()
		s.queuedBytes -= n
		s.mu.Unlock()
		return false
	}
}

// Drain appends every currently queued datagram to buf and returns the
// number of bytes added. It never blocks: datagrams still in flight are
// picked up on a later call.
func (s *Source) Drain(buf *audio.Buffer) int {
	added := 0
	for {
		select {
		case packet := <-s.packets:
			s.mu.Lock()
			s.queuedBytes -= len(packet)
			s.mu.Unlock()
			dropped := buf.Append(packet)
			s.metrics.RecordBytesDropped(s.name, dropped)
			added += len(packet)
		default:
			return added
		}
	}
}

// Flush discards every currently queued datagram without buffering it.
// Sessions call it on start so playout begins from live audio, not from
// whatever queued up while nobody was listening.
func (s *Source) Flush() {
	for {
		select {
		case packet := <-s.packets:
			s.mu.Lock()
			s.queuedBytes -= len(packet)
			s.mu.Unlock()
		default:
			return
		}
	}
}

// Close stops the receive goroutine and closes the socket.
func (s *Source) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close %s source: %w", s.name, err)
	}
	return nil
}

// Stats is a point-in-time snapshot of source counters for the HTTP API.
type Stats struct {
	Source            string `json:"source"`
	Address           string `json:"address"`
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsDropped  uint64 `json:"datagrams_dropped"`
	BytesReceived     uint64 `json:"bytes_received"`
	QueueSize         int    `json:"queue_size"`
	QueuedBytes       int    `json:"queued_bytes"`
	LastError         string `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the source counters.
func (s *Source) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Source:            s.name,
		Address:           s.conn.LocalAddr().String(),
		DatagramsReceived: s.received,
		DatagramsDropped:  s.dropped,
		BytesReceived:     s.bytesIn,
		QueueSize:         len(s.packets),
		QueuedBytes:       s.queuedBytes,
		LastError:         s.lastError,
	}
}
