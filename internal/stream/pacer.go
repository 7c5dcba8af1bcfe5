package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MostlyBuilds/op25-radio-stream/internal/audio"
	"github.com/MostlyBuilds/op25-radio-stream/internal/metrics"
)

const (
	// maxFramesPerTick bounds catch-up after a stall so a backlog drains
	// over several ticks instead of flooding the consumer socket.
	maxFramesPerTick = 10

	// maxTickSleep keeps the loop responsive to shutdown and fresh
	// datagrams even when the next frame is further out.
	maxTickSleep = 10 * time.Millisecond

	// behindYield avoids busy-spinning while the loop is catching up.
	behindYield = time.Millisecond
)

// Drainer is the ingest-side contract: Drain moves every currently queued
// datagram into the session buffer without blocking, returning bytes added;
// Flush discards the queue.
type Drainer interface {
	Name() string
	Drain(*audio.Buffer) int
	Flush()
}

// Config carries the resolved buffering parameters for the pacing core.
type Config struct {
	MaxBufferBytes int           // per-source safety cap
	MinBufferBytes int           // jitter buffer target; 0 disables priming
	InjectHold     time.Duration // inject stays authoritative this long after its last datagram
}

// Pacer owns the frame-by-frame streaming loop for one downstream consumer
// at a time. Session state (buffers, priming, timestamps) lives and dies
// with a single Stream call; the Pacer itself only carries configuration
// and counters.
type Pacer struct {
	cfg     Config
	primary Drainer
	inject  Drainer // nil when the inject source is disabled
	logger  *slog.Logger
	metrics *metrics.Metrics
	clk     clock

	mu    sync.RWMutex
	stats Stats
}

// Stats is a snapshot of streaming counters for the HTTP API.
type Stats struct {
	SessionsServed uint64 `json:"sessions_served"`
	FramesPrimary  uint64 `json:"frames_primary"`
	FramesInject   uint64 `json:"frames_inject"`
	FramesSilence  uint64 `json:"frames_silence"`
	BytesSent      uint64 `json:"bytes_sent"`

	SessionActive   bool `json:"session_active"`
	PrimaryBuffered int  `json:"primary_buffered_bytes"`
	InjectBuffered  int  `json:"inject_buffered_bytes"`
	Primed          bool `json:"primed"`
}

// session holds the state owned by one downstream connection. It is created
// on accept and discarded on disconnect; nothing carries over.
type session struct {
	primaryBuf   *audio.Buffer
	injectBuf    *audio.Buffer
	primer       *primer
	lastInjectRx time.Time
	injectWas    bool
}

// NewPacer creates the streaming core. inject may be nil.
func NewPacer(cfg Config, primary, inject Drainer, logger *slog.Logger, m *metrics.Metrics) *Pacer {
	return &Pacer{
		cfg:     cfg,
		primary: primary,
		inject:  inject,
		logger:  logger,
		metrics: m,
		clk:     systemClock{},
	}
}

// Stream paces PCM frames to w until the context is cancelled or a write
// fails. It returns nil on cancellation and the write error otherwise.
// Frames go out in strict order: when the loop falls behind it catches up a
// bounded number of frames per tick, never by skipping.
func (p *Pacer) Stream(ctx context.Context, w io.Writer) error {
	sess := &session{
		primaryBuf: audio.NewBuffer(p.cfg.MaxBufferBytes),
		injectBuf:  audio.NewBuffer(p.cfg.MaxBufferBytes),
		primer:     newPrimer(p.cfg.MinBufferBytes),
	}

	// Datagrams queued while nobody was connected are stale; playout
	// starts from live audio only.
	p.primary.Flush()
	if p.inject != nil {
		p.inject.Flush()
	}

	p.mu.Lock()
	p.stats.SessionsServed++
	p.stats.SessionActive = true
	p.mu.Unlock()
	defer p.endSession()

	frame := make([]byte, audio.FrameBytes)
	next := p.clk.Now()

	for ctx.Err() == nil {
		now := p.clk.Now()

		if p.inject != nil {
			if added := p.inject.Drain(sess.injectBuf); added > 0 {
				sess.lastInjectRx = now
			}
		}
		added := p.primary.Drain(sess.primaryBuf)
		sess.primer.observe(added > 0, now)

		sent := 0
		for ctx.Err() == nil && !now.Before(next) && sent < maxFramesPerTick {
			kind := p.composeFrame(sess, now, frame)
			if _, err := w.Write(frame); err != nil {
				p.metrics.RecordSendError()
				return fmt.Errorf("write to consumer: %w", err)
			}
			p.recordFrame(kind)

			sent++
			next = next.Add(audio.FrameDuration)
			now = p.clk.Now()
		}

		p.updateSessionStats(sess)

		if wait := next.Sub(p.clk.Now()); wait > 0 {
			if wait > maxTickSleep {
				wait = maxTickSleep
			}
			p.clk.Sleep(wait)
		} else {
			p.clk.Sleep(behindYield)
		}
	}

	return nil
}

// composeFrame builds exactly one FrameBytes frame in dst and returns the
// kind of content it carries. Inject wins whenever it is active; otherwise
// primary drains subject to the priming gate; any shortfall is zero-padded
// digital silence.
func (p *Pacer) composeFrame(sess *session, now time.Time, dst []byte) string {
	if p.injectActive(sess, now) {
		if !sess.injectWas {
			p.logger.Debug("Inject source took over the stream")
			sess.injectWas = true
		}
		n := sess.injectBuf.Fill(dst)
		zeroFill(dst[n:])
		return metrics.FrameInject
	}
	if sess.injectWas {
		p.logger.Debug("Inject source released the stream")
		sess.injectWas = false
	}

	buffered := sess.primaryBuf.Len()
	switch {
	case buffered >= len(dst):
		if sess.primer.holdSilence(buffered) {
			// Keep accumulating toward the jitter target; nothing is
			// consumed so no audio is lost.
			zeroFill(dst)
			return metrics.FrameSilence
		}
		sess.primaryBuf.Fill(dst)
		sess.primer.markDraining()
		return metrics.FramePrimary

	case buffered > 0:
		n := sess.primaryBuf.Fill(dst)
		zeroFill(dst[n:])
		sess.primer.markDraining()
		return metrics.FramePrimary

	default:
		zeroFill(dst)
		return metrics.FrameSilence
	}
}

// injectActive reports whether the inject source is authoritative: it has
// buffered audio, or its last datagram arrived within the hold window.
func (p *Pacer) injectActive(sess *session, now time.Time) bool {
	if p.inject == nil {
		return false
	}
	if sess.injectBuf.Len() > 0 {
		return true
	}
	return !sess.lastInjectRx.IsZero() && now.Sub(sess.lastInjectRx) <= p.cfg.InjectHold
}

func (p *Pacer) recordFrame(kind string) {
	p.metrics.RecordFrameSent(kind, audio.FrameBytes)

	p.mu.Lock()
	switch kind {
	case metrics.FramePrimary:
		p.stats.FramesPrimary++
	case metrics.FrameInject:
		p.stats.FramesInject++
	case metrics.FrameSilence:
		p.stats.FramesSilence++
	}
	p.stats.BytesSent += audio.FrameBytes
	p.mu.Unlock()
}

func (p *Pacer) updateSessionStats(sess *session) {
	p.mu.Lock()
	p.stats.PrimaryBuffered = sess.primaryBuf.Len()
	p.stats.InjectBuffered = sess.injectBuf.Len()
	p.stats.Primed = sess.primer.primed
	p.mu.Unlock()
}

func (p *Pacer) endSession() {
	p.mu.Lock()
	p.stats.SessionActive = false
	p.stats.PrimaryBuffered = 0
	p.stats.InjectBuffered = 0
	p.stats.Primed = false
	p.mu.Unlock()
}

// Stats returns a snapshot of the streaming counters.
func (p *Pacer) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
