// Package stream contains the real-time core of the shim: the per-session
// priming gate, the per-frame source arbitration, and the monotonic-clock
// pacing loop that turns bursty ingest into a constant-bitrate PCM stream.
package stream
