// Package progress tracks named progress operations and broadcasts MCP
// progress notifications for them. It is independent of the async task
// machinery; anything holding a progress token can report through it.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// NotificationSink broadcasts a notification to every interested client
// channel. Implemented by the server's notification hub.
type NotificationSink interface {
	Broadcast(n *protocol.Notification)
}

type entry struct {
	requestID    string
	lastProgress float64
	total        float64
	lastUpdate   time.Time
	lastMessage  string
}

// Tracker maps progress tokens to in-flight operations.
type Tracker struct {
	logger *slog.Logger
	sink   NotificationSink

	mu      sync.Mutex
	entries map[string]*entry
}

// NewTracker constructs a Tracker publishing through sink.
func NewTracker(sink NotificationSink, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:  logger,
		sink:    sink,
		entries: make(map[string]*entry),
	}
}

// BeginProgress registers the token and broadcasts a 0% notification. A
// token that is already active is left untouched; the duplicate begin is
// logged and dropped.
func (t *Tracker) BeginProgress(progressToken, requestID string) {
	t.mu.Lock()
	if _, exists := t.entries[progressToken]; exists {
		t.mu.Unlock()
		t.logger.Warn("progress token already exists", "progress_token", progressToken)
		return
	}
	t.entries[progressToken] = &entry{
		requestID:   requestID,
		total:       100,
		lastUpdate:  time.Now(),
		lastMessage: "Operation started",
	}
	t.mu.Unlock()

	t.logger.Debug("started progress tracking",
		"progress_token", progressToken, "request_id", requestID)
	t.broadcast(progressToken, 0, 100, "Operation started")
}

// UpdateProgress updates the entry in place and broadcasts the completion
// percentage, computed as (progress/total)*100. Updates for unknown tokens
// are dropped with a warning. An empty message keeps the previous one.
func (t *Tracker) UpdateProgress(progressToken string, progress, total float64, message string) {
	t.mu.Lock()
	e, ok := t.entries[progressToken]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("progress token not found", "progress_token", progressToken)
		return
	}
	e.lastProgress = progress
	e.total = total
	e.lastUpdate = time.Now()
	if message != "" {
		e.lastMessage = message
	}
	last := e.lastMessage
	t.mu.Unlock()

	t.broadcast(progressToken, progress, total, last)
}

// EndProgress broadcasts a final 100% notification and forgets the token.
// Ending an unknown token is a no-op with a warning, so EndProgress is
// idempotent.
func (t *Tracker) EndProgress(progressToken string) {
	t.mu.Lock()
	e, ok := t.entries[progressToken]
	if ok {
		delete(t.entries, progressToken)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("progress token not found", "progress_token", progressToken)
		return
	}

	t.broadcast(progressToken, e.total, e.total, "Operation completed")
	t.logger.Debug("ended progress tracking", "progress_token", progressToken)
}

// IsActive reports whether the token has begun and not yet ended.
func (t *Tracker) IsActive(progressToken string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[progressToken]
	return ok
}

// ActiveTokens snapshots the tokens of all in-flight operations.
func (t *Tracker) ActiveTokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make([]string, 0, len(t.entries))
	for token := range t.entries {
		tokens = append(tokens, token)
	}
	return tokens
}

// ActiveCount reports the number of in-flight operations.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) broadcast(progressToken string, progress, total float64, message string) {
	if t.sink == nil {
		return
	}

	var percent float64
	if total > 0 {
		percent = (progress / total) * 100
	}
	if percent > 100 {
		percent = 100
	}

	t.sink.Broadcast(protocol.NewNotification(protocol.NotificationProgress, &protocol.ProgressParams{
		ProgressToken: progressToken,
		Progress:      percent,
		Message:       message,
	}))
}
