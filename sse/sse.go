// Package sse manages server-side Server-Sent Event streams that carry
// progress notifications and the terminal JSON-RPC response for async tool
// calls.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// DefaultConnectionTimeout is how long an active stream may sit idle before
// the sweep closes it.
const DefaultConnectionTimeout = 300 * time.Second

// Connection is one open SSE stream, bound to the HTTP response of the
// tools/call request that started an async task.
type Connection struct {
	ID                uuid.UUID
	SessionID         string
	OriginalRequestID json.RawMessage
	ProgressToken     string
	TaskID            uuid.UUID
	Created           time.Time

	w       http.ResponseWriter
	flusher http.Flusher

	// writeMu serializes frame writes; active flips to false once the
	// final response has been sent.
	writeMu sync.Mutex
	active  bool

	// done is closed when the terminal response is written or the stream
	// is force closed. The HTTP handler blocks on it.
	done     chan struct{}
	doneOnce sync.Once
}

// Done returns the channel closed when the stream has delivered its final
// response or been shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Active reports whether the stream still accepts frames.
func (c *Connection) Active() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.active
}

func (c *Connection) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// FormatEvent renders one SSE frame. Multi-line payloads become one data
// line per payload line; the frame ends with a blank line.
func FormatEvent(eventType, data string) string {
	var b strings.Builder
	if eventType != "" {
		b.WriteString("event: ")
		b.WriteString(eventType)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// writeFrame writes and flushes one frame. Returns false when the stream is
// no longer active or the write fails.
func (c *Connection) writeFrame(eventType, data string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.active {
		return false
	}
	if _, err := fmt.Fprint(c.w, FormatEvent(eventType, data)); err != nil {
		c.active = false
		return false
	}
	c.flusher.Flush()
	return true
}

// Manager owns all live SSE connections and correlates them to tasks and
// progress tokens.
type Manager struct {
	logger *slog.Logger

	mu          sync.Mutex
	connections map[uuid.UUID]*Connection

	connectionTimeout time.Duration
}

// NewManager constructs a Manager. A non-positive timeout falls back to
// DefaultConnectionTimeout.
func NewManager(logger *slog.Logger, connectionTimeout time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if connectionTimeout <= 0 {
		connectionTimeout = DefaultConnectionTimeout
	}
	return &Manager{
		logger:            logger,
		connections:       make(map[uuid.UUID]*Connection),
		connectionTimeout: connectionTimeout,
	}
}

// CreateConnection upgrades the HTTP response into an SSE stream for the
// given task, writes the standard headers, an opening comment and a
// taskStarted notification. Returns an error when the writer cannot flush.
func (m *Manager) CreateConnection(w http.ResponseWriter, taskID uuid.UUID,
	progressToken, sessionID string, originalRequestID json.RawMessage) (*Connection, error) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if sessionID != "" {
		h.Set("Mcp-Session-Id", sessionID)
	}
	w.WriteHeader(http.StatusOK)

	conn := &Connection{
		ID:                uuid.New(),
		SessionID:         sessionID,
		OriginalRequestID: originalRequestID,
		ProgressToken:     progressToken,
		TaskID:            taskID,
		Created:           time.Now(),
		w:                 w,
		flusher:           flusher,
		active:            true,
		done:              make(chan struct{}),
	}

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()

	// Comment frame so intermediaries commit the stream immediately.
	if _, err := fmt.Fprint(w, ": Connection established\n\n"); err != nil {
		m.CloseConnection(conn.ID)
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	flusher.Flush()

	started := protocol.NewNotification(protocol.NotificationTaskStarted, &protocol.TaskStartedParams{
		TaskID:        taskID.String(),
		ProgressToken: progressToken,
	})
	if payload, err := json.Marshal(started); err == nil {
		conn.writeFrame("notification", string(payload))
	}

	m.logger.Info("SSE connection established",
		"connection_id", conn.ID, "task_id", taskID, "progress_token", progressToken)
	return conn, nil
}

// SendProgressNotification writes a progress frame on the stream bound to
// the task. Returns false when no active stream is correlated.
func (m *Manager) SendProgressNotification(taskID uuid.UUID, n *protocol.Notification) bool {
	conn := m.FindConnectionByTaskID(taskID)
	if conn == nil {
		return false
	}

	payload, err := json.Marshal(n)
	if err != nil {
		m.logger.Error("failed to marshal progress notification", "task_id", taskID, "error", err)
		return false
	}
	return conn.writeFrame("progress", string(payload))
}

// SendFinalResponse writes the terminal JSON-RPC response, marks the stream
// inactive and releases the waiting HTTP handler. The connection entry stays
// registered until the cleanup sweep or an explicit close removes it.
func (m *Manager) SendFinalResponse(taskID uuid.UUID, resp *protocol.Response) bool {
	conn := m.FindConnectionByTaskID(taskID)
	if conn == nil {
		m.logger.Warn("no SSE connection for final response", "task_id", taskID)
		return false
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		m.logger.Error("failed to marshal final response", "task_id", taskID, "error", err)
		return false
	}

	ok := conn.writeFrame("response", string(payload))

	conn.writeMu.Lock()
	conn.active = false
	conn.writeMu.Unlock()
	conn.finish()

	if ok {
		m.logger.Info("final response delivered over SSE",
			"connection_id", conn.ID, "task_id", taskID)
	}
	return ok
}

// FindConnectionByTaskID returns the active connection bound to the task,
// or nil.
func (m *Manager) FindConnectionByTaskID(taskID uuid.UUID) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		if conn.TaskID == taskID && conn.Active() {
			return conn
		}
	}
	return nil
}

// FindConnectionByProgressToken returns the active connection carrying the
// token, or nil.
func (m *Manager) FindConnectionByProgressToken(progressToken string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		if conn.ProgressToken == progressToken && conn.Active() {
			return conn
		}
	}
	return nil
}

// CloseConnection deactivates and removes one connection.
func (m *Manager) CloseConnection(connectionID uuid.UUID) {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if ok {
		delete(m.connections, connectionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	conn.writeFrame("", "Connection closing")
	conn.writeMu.Lock()
	conn.active = false
	conn.writeMu.Unlock()
	conn.finish()

	m.logger.Debug("SSE connection closed", "connection_id", connectionID)
}

// ReleaseTaskStream removes whatever connection is still registered for the
// task. Part of the task manager's TransportRelay contract.
func (m *Manager) ReleaseTaskStream(taskID uuid.UUID) {
	m.mu.Lock()
	var stale []*Connection
	for id, conn := range m.connections {
		if conn.TaskID == taskID {
			stale = append(stale, conn)
			delete(m.connections, id)
		}
	}
	m.mu.Unlock()

	for _, conn := range stale {
		conn.writeMu.Lock()
		conn.active = false
		conn.writeMu.Unlock()
		conn.finish()
	}
}

// CloseAllConnections tears down every stream. Called at shutdown.
func (m *Manager) CloseAllConnections() {
	m.mu.Lock()
	all := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		all = append(all, conn)
	}
	m.connections = make(map[uuid.UUID]*Connection)
	m.mu.Unlock()

	for _, conn := range all {
		conn.writeFrame("", "Connection closing")
		conn.writeMu.Lock()
		conn.active = false
		conn.writeMu.Unlock()
		conn.finish()
	}
	m.logger.Info("closed all SSE connections", "count", len(all))
}

// CleanupInactiveConnections removes finished streams and force closes
// streams older than the connection timeout.
func (m *Manager) CleanupInactiveConnections() {
	now := time.Now()

	m.mu.Lock()
	var removed []*Connection
	for id, conn := range m.connections {
		if !conn.Active() || now.Sub(conn.Created) > m.connectionTimeout {
			removed = append(removed, conn)
			delete(m.connections, id)
		}
	}
	m.mu.Unlock()

	for _, conn := range removed {
		conn.writeMu.Lock()
		conn.active = false
		conn.writeMu.Unlock()
		conn.finish()
	}

	if len(removed) > 0 {
		m.logger.Debug("cleaned up SSE connections", "count", len(removed))
	}
}

// ConnectionCount reports the number of registered streams.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// SendTaskProgress implements the task manager's TransportRelay.
func (m *Manager) SendTaskProgress(taskID uuid.UUID, n *protocol.Notification) bool {
	return m.SendProgressNotification(taskID, n)
}

// SendTaskResponse implements the task manager's TransportRelay.
func (m *Manager) SendTaskResponse(taskID uuid.UUID, resp *protocol.Response) bool {
	return m.SendFinalResponse(taskID, resp)
}
