// Package audio defines the PCM frame format produced by OP25 and the
// bounded ingestion buffers that accumulate decoded audio between
// scheduler ticks.
package audio
