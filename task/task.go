// Package task implements asynchronous execution of long-running MCP tools:
// the cancellable task primitive, the manager that owns task lifecycles, and
// the tool-specific task implementations.
package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// AsyncTask is a unit of cancellable, progress-reporting work. Execute runs
// on a worker goroutine and must call ReportComplete exactly once before
// returning, whether it finished, failed, timed out, or was cancelled.
type AsyncTask interface {
	// Execute runs the task body. Never call it on the coordinating
	// goroutine; the manager submits it to the worker pool.
	Execute()

	// RequestCancel sets the cancellation flag. Idempotent, non-blocking,
	// cooperative only: the body observes the flag at its checkpoints.
	RequestCancel()

	// IsCancellable reports whether the task honors RequestCancel.
	IsCancellable() bool

	// IsCancellationRequested is polled by the task body at safe checkpoints.
	IsCancellationRequested() bool

	TaskID() uuid.UUID
	ProgressToken() string

	bind(r reporter)
	failf(format string, args ...any)
}

// reporter receives progress and completion events from a running task. The
// manager installs one before submitting Execute to the pool; events are
// handed to the coordinating goroutine, never handled on the worker.
type reporter interface {
	progress(taskID uuid.UUID, fraction float64, message string)
	complete(taskID uuid.UUID, result *protocol.CallToolResult)
}

// Base carries the state shared by all async task implementations: identity,
// arguments, the cancellation flag, and the one-shot completion guard.
// Concrete tasks embed it and drive ReportProgress / ReportComplete from
// their Execute body.
type Base struct {
	id       uuid.UUID
	token    string
	toolName string
	args     json.RawMessage
	logger   *slog.Logger

	cancelled atomic.Bool
	completed atomic.Bool
	rep       reporter
}

// NewBase constructs the embedded base for a concrete task.
func NewBase(id uuid.UUID, progressToken, toolName string, args json.RawMessage, logger *slog.Logger) Base {
	if logger == nil {
		logger = slog.Default()
	}
	return Base{
		id:       id,
		token:    progressToken,
		toolName: toolName,
		args:     args,
		logger:   logger,
	}
}

func (b *Base) TaskID() uuid.UUID     { return b.id }
func (b *Base) ProgressToken() string { return b.token }
func (b *Base) ToolName() string      { return b.toolName }
func (b *Base) Arguments() json.RawMessage {
	return b.args
}

func (b *Base) IsCancellable() bool { return true }

func (b *Base) RequestCancel() {
	b.cancelled.Store(true)
	b.logger.Info("cancellation requested for async task",
		"task_id", b.id, "tool", b.toolName)
}

func (b *Base) IsCancellationRequested() bool {
	return b.cancelled.Load()
}

func (b *Base) bind(r reporter) { b.rep = r }

// ReportProgress forwards a progress update to the manager. fraction is in
// [0,1]; the manager converts it to the 0-100 percentage used on the wire.
func (b *Base) ReportProgress(fraction float64, message string) {
	if b.rep == nil || b.completed.Load() {
		return
	}
	b.rep.progress(b.id, fraction, message)
}

// ReportComplete delivers the terminal result. The first caller wins; later
// calls log a warning and do nothing, so completion reaches the transport
// layer at most once per task.
func (b *Base) ReportComplete(result *protocol.CallToolResult) {
	if !b.completed.CompareAndSwap(false, true) {
		b.logger.Warn("async task attempted to complete multiple times",
			"task_id", b.id, "tool", b.toolName)
		return
	}

	if b.rep != nil {
		b.rep.complete(b.id, result)
	}

	b.logger.Info("async task completed",
		"task_id", b.id, "tool", b.toolName, "is_error", result != nil && result.IsError)
}

// CheckCancellationAndReport reports a "cancelled" completion and returns
// true when cancellation was requested, so the caller can return right away.
func (b *Base) CheckCancellationAndReport() bool {
	if !b.IsCancellationRequested() {
		return false
	}
	b.ReportComplete(protocol.NewToolResultError("Task was cancelled"))
	return true
}

// failf completes the task with an error result. Used by the manager's
// panic boundary; regular task bodies call ReportComplete directly.
func (b *Base) failf(format string, args ...any) {
	b.ReportComplete(protocol.NewToolResultError(fmt.Sprintf(format, args...)))
}
