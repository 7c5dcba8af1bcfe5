package server

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/MostlyBuilds/op25-radio-stream/internal/audio"
	"github.com/MostlyBuilds/op25-radio-stream/internal/config"
	"github.com/MostlyBuilds/op25-radio-stream/internal/ingest"
	"github.com/MostlyBuilds/op25-radio-stream/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// idleSource satisfies stream.Drainer and never delivers anything.
type idleSource struct{}

func (idleSource) Name() string                { return "primary" }
func (idleSource) Drain(buf *audio.Buffer) int { return 0 }
func (idleSource) Flush()                      {}

func testStreamConfig() stream.Config {
	return stream.Config{
		MaxBufferBytes: 480000,
		MinBufferBytes: 0,
		InjectHold:     750 * time.Millisecond,
	}
}

// startServer brings up a stream server on an ephemeral port with the given
// pacer and returns it.
func startServer(t *testing.T, pacer *stream.Pacer) *StreamServer {
	t.Helper()

	cfg := &config.OutputConfig{BindAddress: "127.0.0.1", Port: 0}
	srv := NewStreamServer(cfg, pacer, testLogger(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start stream server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv
}

func dialServer(t *testing.T, srv *StreamServer) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 3*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to stream server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestStreamServerServesSilence(t *testing.T) {
	pacer := stream.NewPacer(testStreamConfig(), idleSource{}, nil, testLogger(), nil)
	srv := startServer(t, pacer)

	conn := dialServer(t, srv)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// With no source audio, the stream is continuous digital silence in
	// whole frames.
	buf := make([]byte, 3*audio.FrameBytes)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Failed to read frames: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Byte %d = %#x, want silence", i, b)
		}
	}
}

func TestStreamServerEndToEnd(t *testing.T) {
	src, err := ingest.Listen("primary", "127.0.0.1", 0, 65536, 480000, testLogger(), nil)
	if err != nil {
		t.Fatalf("Failed to start ingest source: %v", err)
	}
	t.Cleanup(func() { src.Close() })

	pacer := stream.NewPacer(testStreamConfig(), src, nil, testLogger(), nil)
	srv := startServer(t, pacer)

	conn := dialServer(t, srv)
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	client, err := net.DialUDP("udp", nil, src.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Failed to dial ingest source: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Read one frame first: the session is live and its start-of-session
	// queue flush is behind us, so the datagram sent next cannot be
	// discarded as pre-session backlog.
	frame := make([]byte, audio.FrameBytes)
	if _, err := io.ReadFull(conn, frame); err != nil {
		t.Fatalf("Failed to read first frame: %v", err)
	}

	payload := make([]byte, audio.FrameBytes)
	for i := range payload {
		payload[i] = 0x5a
	}
	if _, err := client.Write(payload); err != nil {
		t.Fatalf("Failed to send datagram: %v", err)
	}

	// The datagram must surface in the TCP stream, frame-aligned, within
	// a bounded amount of real time.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("Ingested audio never appeared in the output stream")
		}
		if _, err := io.ReadFull(conn, frame); err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		if frame[0] == 0x5a {
			break
		}
	}

	// The real audio occupies exactly one frame, byte for byte.
	for i, b := range frame {
		if b != 0x5a {
			t.Fatalf("Frame byte %d = %#x, want 0x5a", i, b)
		}
	}
}

func TestStreamServerServesSerially(t *testing.T) {
	pacer := stream.NewPacer(testStreamConfig(), idleSource{}, nil, testLogger(), nil)
	srv := startServer(t, pacer)

	first := dialServer(t, srv)
	first.SetReadDeadline(time.Now().Add(5 * time.Second))

	frame := make([]byte, audio.FrameBytes)
	if _, err := io.ReadFull(first, frame); err != nil {
		t.Fatalf("First consumer failed to read: %v", err)
	}

	// A second connection sits in the listen backlog: it receives nothing
	// while the first session is active.
	second := dialServer(t, srv)
	second.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, err := second.Read(frame); err == nil {
		t.Fatal("Second consumer received data while the first was active")
	} else if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		t.Fatalf("Expected read timeout on second consumer, got %v", err)
	}

	// Once the first consumer goes away the second session begins.
	first.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(second, frame); err != nil {
		t.Fatalf("Second consumer failed to read after first closed: %v", err)
	}
}

func TestStreamServerReconnect(t *testing.T) {
	pacer := stream.NewPacer(testStreamConfig(), idleSource{}, nil, testLogger(), nil)
	srv := startServer(t, pacer)

	frame := make([]byte, audio.FrameBytes)
	for i := 0; i < 3; i++ {
		conn := dialServer(t, srv)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.ReadFull(conn, frame); err != nil {
			t.Fatalf("Connection %d failed to read: %v", i, err)
		}
		conn.Close()
	}

	if got := pacer.Stats().SessionsServed; got != 3 {
		t.Errorf("Expected 3 sessions served, got %d", got)
	}
}

func TestStreamServerStopIsPrompt(t *testing.T) {
	pacer := stream.NewPacer(testStreamConfig(), idleSource{}, nil, testLogger(), nil)

	cfg := &config.OutputConfig{BindAddress: "127.0.0.1", Port: 0}
	srv := NewStreamServer(cfg, pacer, testLogger(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start stream server: %v", err)
	}

	// An active session must not delay shutdown.
	conn := dialServer(t, srv)
	frame := make([]byte, audio.FrameBytes)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not complete within 3 seconds")
	}

	// The consumer sees the connection close: any buffered frames drain
	// and then the stream ends, well before the read deadline.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.Copy(io.Discard, conn); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			t.Error("Connection still open after Stop")
		}
	}
}

func TestStreamServerBindFailure(t *testing.T) {
	pacer := stream.NewPacer(testStreamConfig(), idleSource{}, nil, testLogger(), nil)
	srv := startServer(t, pacer)

	port := srv.Addr().(*net.TCPAddr).Port
	cfg := &config.OutputConfig{BindAddress: "127.0.0.1", Port: port}
	dup := NewStreamServer(cfg, pacer, testLogger(), nil)
	if err := dup.Start(); err == nil {
		dup.Stop()
		t.Fatal("Expected bind error on occupied port")
	}
}
