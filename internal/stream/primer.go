package stream

import "time"

// idleResetInterval is how long the primary source must stay silent before
// the next datagram is treated as the start of a new transmission.
const idleResetInterval = 400 * time.Millisecond

// primer gates primary-source output at the leading edge of a transmission.
// OP25 is often slightly late with the first packets of a call; holding
// output until minBytes of real audio have accumulated keeps the first
// syllable from being clipped. The gate latches open once audio starts
// draining and re-arms only after an idle gap, so a momentary dip
// mid-transmission never reintroduces silence.
type primer struct {
	minBytes int
	primed   bool
	lastRx   time.Time
}

func newPrimer(minBytes int) *primer {
	return &primer{
		minBytes: minBytes,
		primed:   minBytes == 0,
	}
}

// observe updates the transmission-edge tracking. It must be called exactly
// once per drain cycle, with received reporting whether the primary source
// delivered any bytes this cycle.
func (p *primer) observe(received bool, now time.Time) {
	if received {
		// First-ever receipt, or data after an idle gap: a new
		// transmission begins and the gate re-arms.
		if p.lastRx.IsZero() || now.Sub(p.lastRx) > idleResetInterval {
			p.primed = p.minBytes == 0
		}
		p.lastRx = now
		return
	}
	if !p.lastRx.IsZero() && now.Sub(p.lastRx) > idleResetInterval {
		p.primed = p.minBytes == 0
	}
}

// holdSilence reports whether a frame-sized buffer should keep accumulating
// instead of draining.
func (p *primer) holdSilence(buffered int) bool {
	return p.minBytes > 0 && !p.primed && buffered < p.minBytes
}

// markDraining latches the gate open once real audio is consumed, including
// the under-fill case where a short burst never reaches the target.
func (p *primer) markDraining() {
	if p.minBytes > 0 {
		p.primed = true
	}
}
