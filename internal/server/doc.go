// Package server implements the TCP stream server that feeds one downstream
// consumer at a time, plus the HTTP monitoring/management endpoints.
package server
