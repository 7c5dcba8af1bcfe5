package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestFrameConstants(t *testing.T) {
	if FrameSamples != 160 {
		t.Errorf("Expected 160 samples per frame, got %d", FrameSamples)
	}
	if FrameBytes != 320 {
		t.Errorf("Expected 320 bytes per frame, got %d", FrameBytes)
	}
}

func TestBytesForDuration(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		want int
	}{
		{"zero", 0, 0},
		{"one frame", 20, 320},
		{"jitter default", 250, 4000},
		{"one second", 1000, 16000},
		{"thirty seconds", 30000, 480000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesForDuration(time.Duration(tt.ms) * time.Millisecond)
			if got != tt.want {
				t.Errorf("BytesForDuration(%dms) = %d, want %d", tt.ms, got, tt.want)
			}
		})
	}
}

func TestBufferAppendAndFill(t *testing.T) {
	buf := NewBuffer(1024)

	data := []byte{1, 2, 3, 4, 5, 6}
	if dropped := buf.Append(data); dropped != 0 {
		t.Errorf("Expected no drop, got %d", dropped)
	}
	if buf.Len() != 6 {
		t.Errorf("Expected length 6, got %d", buf.Len())
	}

	dst := make([]byte, 4)
	n := buf.Fill(dst)
	if n != 4 {
		t.Errorf("Expected 4 bytes filled, got %d", n)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected head bytes 1..4, got %v", dst)
	}
	if buf.Len() != 2 {
		t.Errorf("Expected 2 bytes remaining, got %d", buf.Len())
	}

	// Partial fill consumes everything that existed.
	n = buf.Fill(dst)
	if n != 2 {
		t.Errorf("Expected 2 bytes filled, got %d", n)
	}
	if !bytes.Equal(dst[:n], []byte{5, 6}) {
		t.Errorf("Expected tail bytes 5,6, got %v", dst[:n])
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", buf.Len())
	}
}

func TestBufferAlignment(t *testing.T) {
	buf := NewBuffer(1024)

	// Odd-length append: trailing byte is dropped so the length stays even.
	buf.Append([]byte{1, 2, 3})
	if buf.Len() != 2 {
		t.Errorf("Expected length 2 after odd append, got %d", buf.Len())
	}

	buf.Append([]byte{4})
	if buf.Len() != 2 {
		t.Errorf("Expected length 2 after single-byte append, got %d", buf.Len())
	}
	if buf.Len()%2 != 0 {
		t.Errorf("Buffer length %d is not sample-aligned", buf.Len())
	}
}

func TestBufferCapacityDropsOldest(t *testing.T) {
	buf := NewBuffer(8)

	buf.Append([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	dropped := buf.Append([]byte{9, 10, 11, 12})
	if dropped != 4 {
		t.Errorf("Expected 4 bytes dropped, got %d", dropped)
	}
	if buf.Len() != 8 {
		t.Errorf("Expected length at cap 8, got %d", buf.Len())
	}

	dst := make([]byte, 8)
	buf.Fill(dst)
	if !bytes.Equal(dst, []byte{5, 6, 7, 8, 9, 10, 11, 12}) {
		t.Errorf("Expected newest 8 bytes retained, got %v", dst)
	}
}

func TestBufferSingleBurstOverCap(t *testing.T) {
	buf := NewBuffer(100)

	burst := make([]byte, 1000)
	for i := range burst {
		burst[i] = byte(i)
	}
	dropped := buf.Append(burst)
	if dropped != 900 {
		t.Errorf("Expected 900 bytes dropped, got %d", dropped)
	}
	if buf.Len() != 100 {
		t.Errorf("Expected length 100, got %d", buf.Len())
	}

	dst := make([]byte, 100)
	buf.Fill(dst)
	if !bytes.Equal(dst, burst[900:]) {
		t.Errorf("Expected the newest 100 bytes to survive the burst")
	}
}

func TestBufferCapRoundsToSample(t *testing.T) {
	buf := NewBuffer(7)
	if buf.Cap() != 6 {
		t.Errorf("Expected cap rounded down to 6, got %d", buf.Cap())
	}
}

func TestBufferCompaction(t *testing.T) {
	buf := NewBuffer(1024 * 1024)
	chunk := make([]byte, 1000)
	dst := make([]byte, 998)

	// Append/consume cycles that never fully empty the buffer, so the head
	// offset keeps growing until internal compaction kicks in. The byte
	// sequence must survive compaction intact.
	var wrote, read byte
	for i := 0; i < 100; i++ {
		for j := range chunk {
			chunk[j] = wrote
			wrote++
		}
		buf.Append(chunk)

		n := buf.Fill(dst)
		if n != len(dst) {
			t.Fatalf("cycle %d: expected %d bytes, got %d", i, len(dst), n)
		}
		for j := 0; j < n; j++ {
			if dst[j] != read {
				t.Fatalf("cycle %d: byte %d = %d, want %d", i, j, dst[j], read)
			}
			read++
		}
	}
}

func TestBufferReset(t *testing.T) {
	buf := NewBuffer(1024)
	buf.Append([]byte{1, 2, 3, 4})
	buf.Reset()
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer after reset, got %d", buf.Len())
	}
}
