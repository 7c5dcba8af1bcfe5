package audio

// Buffer is a bounded byte queue for s16le PCM: datagrams append at the
// tail, the frame scheduler consumes from the head. Two invariants hold
// after every mutation:
//
//   - the length is always even, so a frame boundary never splits a sample
//   - the length never exceeds the cap; oldest bytes are dropped first
//
// The cap is a hard safety ceiling against unbounded growth when nothing is
// draining, not a jitter-buffer target. A Buffer is owned by exactly one
// session and is not safe for concurrent use.
type Buffer struct {
	data []byte
	head int
	max  int
}

// compactAt bounds how far the head offset may wander before the live bytes
// are copied back to the start of the backing slice.
const compactAt = 16 * 1024

// NewBuffer creates a buffer holding at most maxBytes. maxBytes is rounded
// down to a whole sample.
func NewBuffer(maxBytes int) *Buffer {
	if maxBytes < BytesPerSample {
		maxBytes = BytesPerSample
	}
	maxBytes -= maxBytes % BytesPerSample
	return &Buffer{max: maxBytes}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.head
}

// Cap returns the safety ceiling in bytes.
func (b *Buffer) Cap() int {
	return b.max
}

// Append adds p at the tail, then restores the alignment and capacity
// invariants. It returns the number of oldest bytes dropped to stay under
// the cap (the odd trailing byte, if any, is not counted).
func (b *Buffer) Append(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	if b.head >= compactAt {
		b.compact()
	}
	b.data = append(b.data, p...)

	// A split sample would shift every later sample boundary; losing one
	// byte is the lesser harm.
	if b.Len()%BytesPerSample != 0 {
		b.data = b.data[:len(b.data)-1]
	}

	dropped := 0
	if over := b.Len() - b.max; over > 0 {
		b.head += over
		dropped = over
	}
	return dropped
}

// Fill copies up to len(dst) bytes from the head into dst and consumes
// them, returning the number copied. It never blocks and never copies a
// partial view: the caller zero-pads the remainder of dst.
func (b *Buffer) Fill(dst []byte) int {
	n := copy(dst, b.data[b.head:])
	b.head += n
	if b.head == len(b.data) {
		b.data = b.data[:0]
		b.head = 0
	}
	return n
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.head = 0
}

func (b *Buffer) compact() {
	n := copy(b.data, b.data[b.head:])
	b.data = b.data[:n]
	b.head = 0
}
