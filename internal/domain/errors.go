// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrTimeout indicates an operation exceeded its deadline.
var ErrTimeout = errors.New("operation timed out")

// ErrCancelled indicates an operation was cancelled before completion.
var ErrCancelled = errors.New("operation cancelled")

// ErrBackpressure indicates a queue or limiter rejected work because it is
// at capacity.
var ErrBackpressure = errors.New("rejected: system under backpressure")

// ErrCircuitOpen indicates a circuit breaker is open and is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrValidation indicates content failed structural or content-level checks.
var ErrValidation = errors.New("validation failed")

// ErrDedup indicates content was rejected as a duplicate of existing content.
var ErrDedup = errors.New("rejected: duplicate content")

// ErrParse indicates raw content could not be parsed into a document.
var ErrParse = errors.New("parse failed")

// ErrDNS indicates DNS resolution failed for a request's host (e.g. NXDOMAIN).
var ErrDNS = errors.New("dns resolution failed")

// ErrConnect indicates the transport failed to establish a TCP connection.
var ErrConnect = errors.New("connection failed")

// ErrTLS indicates a TLS handshake or certificate verification failure.
var ErrTLS = errors.New("tls handshake failed")
