// Package extractor implements the sandboxed WASM extractor instance pool
// described in spec.md §4.4 — the hardest subsystem in the system. It owns
// up to Config.MaxPoolSize component instances, gates entry with a counting
// semaphore, enforces per-instance memory/CPU/lifetime limits, runs a
// pool-private circuit breaker (breaker.Breaker, per SPEC_FULL §D.1), and
// falls back to a native extractor when the sandboxed path is unavailable.
package extractor

import (
	"context"
	"time"

	"riptide/internal/document"
)

// ComponentErrorKind mirrors the WIT extraction-error variant (spec.md §6).
type ComponentErrorKind string

const (
	ErrInvalidHTML    ComponentErrorKind = "invalid_html"
	ErrNetworkError   ComponentErrorKind = "network_error"
	ErrParseError     ComponentErrorKind = "parse_error"
	ErrResourceLimit  ComponentErrorKind = "resource_limit"
	ErrExtractorError ComponentErrorKind = "extractor_error"
	ErrInternalError  ComponentErrorKind = "internal_error"
	ErrUnsupportedMode ComponentErrorKind = "unsupported_mode"
)

// ComponentError is returned by a Component when the guest export fails or
// is interrupted by the epoch clock.
type ComponentError struct {
	Kind ComponentErrorKind
	Msg  string
}

func (e *ComponentError) Error() string { return string(e.Kind) + ": " + e.Msg }

// InstanceStats is the per-extraction telemetry returned alongside a
// document, mirroring the WIT `extract-with-stats` export.
type InstanceStats struct {
	MemoryPages    int
	ProcessingTime time.Duration
}

// Component is the host-side handle to one instantiated WASM component,
// matching the WIT surface in spec.md §6 (extract / extract-with-stats /
// validate-html / health-check / get-info / reset-state / get-modes). Only
// the subset the pool drives is modeled here; a concrete implementation
// (component_wasmtime.go) backs it with wasmtime-go.
type Component interface {
	// Extract runs the guest's extract() export under the epoch deadline
	// already configured on the component's store. ctx carries the
	// extraction timeout as a best-effort cancellation signal; the hard
	// stop is the epoch interrupt, which the WASM guest cannot ignore.
	Extract(ctx context.Context, html, url string, mode document.ExtractionMode) (document.ExtractedDocument, InstanceStats, error)
	// SetEpochDeadline arms the epoch-based deadline, in epoch ticks, for
	// the next Extract call.
	SetEpochDeadline(ticks uint64)
	// MemoryPages reports the component's current linear-memory size.
	MemoryPages() int
	// Healthy reports whether the runtime itself still considers the
	// instance usable (e.g. has not trapped unrecoverably).
	Healthy() bool
	Close() error
}

// ComponentFactory creates a fresh Component bound to the pool's shared
// wasmtime engine. Returned by NewWasmtimeFactory or a test fake.
type ComponentFactory func() (Component, error)
