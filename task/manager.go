package task

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// Factory constructs the tool-specific AsyncTask for one launch. One factory
// is registered per long-running tool.
type Factory func(taskID uuid.UUID, progressToken string, args json.RawMessage, logger *slog.Logger) AsyncTask

// TransportRelay is the manager's outbound boundary. The server wires it to
// the SSE stream manager; tests substitute a recorder.
type TransportRelay interface {
	// SendTaskProgress delivers a progress notification for the task's
	// stream. Best effort; a false return is logged, not propagated.
	SendTaskProgress(taskID uuid.UUID, n *protocol.Notification) bool

	// SendTaskResponse delivers the terminal JSON-RPC response and marks
	// the task's stream as finished.
	SendTaskResponse(taskID uuid.UUID, resp *protocol.Response) bool

	// ReleaseTaskStream drops any stream still correlated to the task.
	// Called from the cleanup sweep.
	ReleaseTaskStream(taskID uuid.UUID)
}

// HistoryRecorder receives one record per completed task. Optional.
type HistoryRecorder interface {
	RecordTask(taskID uuid.UUID, toolName string, startedAt time.Time, duration time.Duration, isError bool, summary string)
}

// Context is the aggregate root of one in-flight async task. It is owned by
// the manager from launch to cleanup; the task itself never touches it.
type Context struct {
	TaskID            uuid.UUID
	ProgressToken     string
	SessionID         string
	OriginalRequestID json.RawMessage
	ToolName          string
	Arguments         json.RawMessage
	Task              AsyncTask
	StartedAt         time.Time

	// done is closed when Execute returns; it is the task's "future".
	done chan struct{}
}

// Finished reports whether the worker has returned from Execute.
func (c *Context) Finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type taskEvent struct {
	taskID   uuid.UUID
	fraction float64
	message  string
	result   *protocol.CallToolResult
	terminal bool
}

// Manager launches async tasks on a bounded worker pool, correlates
// taskId / progressToken / session, and relays task callbacks to the
// transport layer from a single coordinating goroutine.
type Manager struct {
	logger  *slog.Logger
	relay   TransportRelay
	history HistoryRecorder

	mu          sync.Mutex
	factories   map[string]Factory
	tasks       map[uuid.UUID]*Context
	tokenToTask map[string]uuid.UUID

	workers *pool.Pool
	events  chan taskEvent
	stopped chan struct{}
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// MaxWorkers bounds the number of concurrently executing task bodies.
	MaxWorkers int
	// History, when non-nil, records every completed task.
	History HistoryRecorder
}

// NewManager constructs a Manager and starts its coordinating goroutine.
func NewManager(relay TransportRelay, logger *slog.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	m := &Manager{
		logger:      logger,
		relay:       relay,
		history:     opts.History,
		factories:   make(map[string]Factory),
		tasks:       make(map[uuid.UUID]*Context),
		tokenToTask: make(map[string]uuid.UUID),
		workers:     pool.New().WithMaxGoroutines(maxWorkers),
		events:      make(chan taskEvent, 64),
		stopped:     make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// RegisterFactory registers the AsyncTask constructor for a tool name.
func (m *Manager) RegisterFactory(toolName string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[toolName] = f
}

// HasFactory reports whether toolName launches as an async task.
func (m *Manager) HasFactory(toolName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.factories[toolName]
	return ok
}

// LaunchTask creates the tool-specific task, wires its callbacks, submits it
// to the worker pool and registers the context under both the task id and
// the progress token. Returns uuid.Nil when the tool has no async
// implementation or the progress token is already in use; the caller must
// treat that as a dispatch error.
func (m *Manager) LaunchTask(taskID uuid.UUID, toolName string, args json.RawMessage,
	progressToken, sessionID string, originalRequestID json.RawMessage) uuid.UUID {

	m.mu.Lock()
	factory, ok := m.factories[toolName]
	if !ok {
		m.mu.Unlock()
		m.logger.Error("failed to create async task: no implementation for tool", "tool", toolName)
		return uuid.Nil
	}
	if _, taken := m.tokenToTask[progressToken]; taken {
		m.mu.Unlock()
		m.logger.Error("progress token already bound to a running task",
			"progress_token", progressToken, "tool", toolName)
		return uuid.Nil
	}
	// Reserve the token before unlocking so concurrent launches carrying
	// the same token cannot all pass the check above.
	m.tokenToTask[progressToken] = taskID
	m.mu.Unlock()

	t := factory(taskID, progressToken, args, m.logger)
	if t == nil {
		m.mu.Lock()
		delete(m.tokenToTask, progressToken)
		m.mu.Unlock()
		m.logger.Error("async task factory returned nil", "tool", toolName)
		return uuid.Nil
	}
	t.bind(m)

	tctx := &Context{
		TaskID:            taskID,
		ProgressToken:     progressToken,
		SessionID:         sessionID,
		OriginalRequestID: originalRequestID,
		ToolName:          toolName,
		Arguments:         args,
		Task:              t,
		StartedAt:         time.Now(),
		done:              make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[taskID] = tctx
	m.mu.Unlock()

	m.workers.Go(func() {
		defer close(tctx.done)
		defer func() {
			if r := recover(); r != nil {
				// A panicking tool must not take the pool down; convert to
				// an error completion. ReportComplete's guard makes this a
				// no-op if the task already completed.
				m.logger.Error("async task panicked", "task_id", taskID, "tool", toolName, "panic", r)
				t.failf("tool execution failed: %v", r)
			}
		}()
		t.Execute()
	})

	m.logger.Info("launched async task",
		"task_id", taskID, "tool", toolName, "progress_token", progressToken)
	return taskID
}

// CancelTask requests cooperative cancellation. Returns false when the task
// is unknown or already finished; it does not wait for the task to stop.
func (m *Manager) CancelTask(taskID uuid.UUID) bool {
	m.mu.Lock()
	tctx, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok || tctx.Task == nil || tctx.Finished() {
		return false
	}

	tctx.Task.RequestCancel()
	return true
}

// CancelTaskByProgressToken resolves the token and requests cancellation.
func (m *Manager) CancelTaskByProgressToken(progressToken string) bool {
	m.mu.Lock()
	taskID, ok := m.tokenToTask[progressToken]
	var tctx *Context
	if ok {
		tctx = m.tasks[taskID]
	}
	m.mu.Unlock()

	if tctx == nil || tctx.Task == nil || tctx.Finished() {
		return false
	}

	tctx.Task.RequestCancel()
	m.logger.Info("cancellation requested via progress token",
		"task_id", taskID, "progress_token", progressToken)
	return true
}

// GetTaskContext looks up the context for a task id.
func (m *Manager) GetTaskContext(taskID uuid.UUID) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tctx, ok := m.tasks[taskID]
	return tctx, ok
}

// GetTaskContextByProgressToken looks up the context by progress token.
func (m *Manager) GetTaskContextByProgressToken(progressToken string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	taskID, ok := m.tokenToTask[progressToken]
	if !ok {
		return nil, false
	}
	tctx, ok := m.tasks[taskID]
	return tctx, ok
}

// IsTaskRunning reports whether the task is registered and its worker has
// not yet returned.
func (m *Manager) IsTaskRunning(taskID uuid.UUID) bool {
	m.mu.Lock()
	tctx, ok := m.tasks[taskID]
	m.mu.Unlock()
	return ok && !tctx.Finished()
}

// GetRunningTaskIds snapshots the ids of all not-yet-finished tasks.
func (m *Manager) GetRunningTaskIds() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(m.tasks))
	for id, tctx := range m.tasks {
		if !tctx.Finished() {
			ids = append(ids, id)
		}
	}
	return ids
}

// CleanupCompletedTasks removes every context whose worker has finished,
// dropping both the task-id and progress-token entries and releasing the
// correlated stream. Running tasks are untouched. Correctness of a single
// task never depends on this; it only bounds memory growth.
func (m *Manager) CleanupCompletedTasks() {
	m.mu.Lock()
	var removed []*Context
	for id, tctx := range m.tasks {
		if tctx.Finished() {
			removed = append(removed, tctx)
			delete(m.tokenToTask, tctx.ProgressToken)
			delete(m.tasks, id)
		}
	}
	m.mu.Unlock()

	// Stream release happens outside the lock: the relay may call back
	// into lookup methods.
	for _, tctx := range removed {
		if m.relay != nil {
			m.relay.ReleaseTaskStream(tctx.TaskID)
		}
	}

	if len(removed) > 0 {
		m.logger.Debug("cleaned up completed async tasks", "count", len(removed))
	}
}

// CancelAllTasks requests cancellation on every registered task. Called at
// shutdown.
func (m *Manager) CancelAllTasks() {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.tasks))
	for _, tctx := range m.tasks {
		contexts = append(contexts, tctx)
	}
	m.mu.Unlock()

	for _, tctx := range contexts {
		if tctx.Task != nil {
			tctx.Task.RequestCancel()
		}
	}
	m.logger.Info("requested cancellation for all running tasks", "count", len(contexts))
}

// Close cancels everything, waits for workers to drain and stops the
// coordinating goroutine.
func (m *Manager) Close() {
	m.CancelAllTasks()
	m.workers.Wait()
	close(m.events)
	<-m.stopped
}

// progress implements reporter. Runs on the worker goroutine; the event is
// handed to the coordinating goroutine.
func (m *Manager) progress(taskID uuid.UUID, fraction float64, message string) {
	m.events <- taskEvent{taskID: taskID, fraction: fraction, message: message}
}

// complete implements reporter.
func (m *Manager) complete(taskID uuid.UUID, result *protocol.CallToolResult) {
	m.events <- taskEvent{taskID: taskID, result: result, terminal: true}
}

// dispatch is the coordinating goroutine: the only place task callbacks are
// translated into transport traffic. Single consumer, so per-task ordering
// is preserved and the terminal response always follows the last progress
// notification.
func (m *Manager) dispatch() {
	defer close(m.stopped)
	for ev := range m.events {
		if ev.terminal {
			m.onTaskCompleted(ev.taskID, ev.result)
		} else {
			m.onTaskProgress(ev.taskID, ev.fraction, ev.message)
		}
	}
}

func (m *Manager) onTaskProgress(taskID uuid.UUID, fraction float64, message string) {
	tctx, ok := m.GetTaskContext(taskID)
	if !ok {
		// The task outlived its registration; late delivery, not an error.
		m.logger.Warn("task progress reported but context not found", "task_id", taskID)
		return
	}

	n := protocol.NewNotification(protocol.NotificationProgress, &protocol.ProgressParams{
		ProgressToken: tctx.ProgressToken,
		Progress:      fraction * 100,
		Message:       message,
	})

	m.logger.Debug("task progress",
		"task_id", taskID, "progress", fraction*100, "message", message)

	if m.relay != nil && !m.relay.SendTaskProgress(taskID, n) {
		m.logger.Warn("failed to deliver progress notification", "task_id", taskID)
	}
}

func (m *Manager) onTaskCompleted(taskID uuid.UUID, result *protocol.CallToolResult) {
	tctx, ok := m.GetTaskContext(taskID)
	if !ok {
		m.logger.Warn("task completed but context not found", "task_id", taskID)
		return
	}

	var resp *protocol.Response
	if result != nil && result.IsError {
		msg := result.FirstText()
		if msg == "" {
			msg = "Tool execution failed"
		}
		resp = protocol.NewErrorResponse(tctx.OriginalRequestID, protocol.InternalError, msg)
	} else {
		resp = protocol.NewResponse(tctx.OriginalRequestID, result)
	}

	m.logger.Info("task completed, sending final response", "task_id", taskID)
	if m.relay != nil && !m.relay.SendTaskResponse(taskID, resp) {
		m.logger.Error("no stream accepted the final response", "task_id", taskID)
	}

	if m.history != nil {
		isError := result != nil && result.IsError
		m.history.RecordTask(taskID, tctx.ToolName, tctx.StartedAt,
			time.Since(tctx.StartedAt), isError, result.FirstText())
	}
}
