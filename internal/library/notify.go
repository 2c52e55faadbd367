package library

import "sync/atomic"

// ProgressState is the lifecycle state of a batch import as seen by the
// notification layer.
type ProgressState int32

const (
	ProgressActive ProgressState = iota
	ProgressCancelled
	ProgressCompleted
)

func (s ProgressState) String() string {
	switch s {
	case ProgressActive:
		return "active"
	case ProgressCancelled:
		return "cancelled"
	case ProgressCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ProgressEvent is the mutable progress record for one batch import. The
// importer updates Text and Fraction and re-posts the event to the sink as the
// batch advances. The receiving side may call Cancel at any time; cancellation
// is advisory and is checked between archives only, never mid-archive.
type ProgressEvent struct {
	BatchID  string
	Text     string
	Fraction float64 // 0..1

	state atomic.Int32
}

// State returns the event's current lifecycle state.
func (e *ProgressEvent) State() ProgressState {
	return ProgressState(e.state.Load())
}

// Cancel requests that the batch stop before its next archive.
// It has no effect once the batch has completed.
func (e *ProgressEvent) Cancel() {
	e.state.CompareAndSwap(int32(ProgressActive), int32(ProgressCancelled))
}

func (e *ProgressEvent) complete() {
	e.state.CompareAndSwap(int32(ProgressActive), int32(ProgressCompleted))
}

// ProgressSink receives progress events from batch imports. Implementations
// must be safe for concurrent use and must not block the importer.
type ProgressSink interface {
	Post(e *ProgressEvent)
}

// NopSink discards all progress events. Use in tests and headless callers.
type NopSink struct{}

func (NopSink) Post(*ProgressEvent) {}
