// Package ingest implements the UDP source readers. Each source owns one
// datagram socket and a background receive goroutine; the scheduler drains
// queued datagrams without ever blocking on their arrival.
package ingest
