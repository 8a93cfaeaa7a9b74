package task

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

type recordingReporter struct {
	mu        sync.Mutex
	progress  []float64
	messages  []string
	completed []*protocol.CallToolResult
}

func (r *recordingReporter) progressEvents() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.progress...)
}

func (r *recordingReporter) results() []*protocol.CallToolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.CallToolResult(nil), r.completed...)
}

func (r *recordingReporter) progressFn(_ uuid.UUID, fraction float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, fraction)
	r.messages = append(r.messages, message)
}

func (r *recordingReporter) completeFn(_ uuid.UUID, result *protocol.CallToolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, result)
}

type reporterFuncs struct {
	p func(uuid.UUID, float64, string)
	c func(uuid.UUID, *protocol.CallToolResult)
}

func (r reporterFuncs) progress(id uuid.UUID, fraction float64, message string) {
	r.p(id, fraction, message)
}

func (r reporterFuncs) complete(id uuid.UUID, result *protocol.CallToolResult) {
	r.c(id, result)
}

func newTestBase(rec *recordingReporter) *Base {
	b := NewBase(uuid.New(), "token-1", "test-tool", json.RawMessage(`{}`), nil)
	b.bind(reporterFuncs{p: rec.progressFn, c: rec.completeFn})
	return &b
}

func TestReportCompleteOnlyOnce(t *testing.T) {
	rec := &recordingReporter{}
	b := newTestBase(rec)

	b.ReportComplete(protocol.NewToolResultText("first"))
	b.ReportComplete(protocol.NewToolResultText("second"))

	results := rec.results()
	require.Len(t, results, 1)
	assert.Equal(t, "first", results[0].FirstText())
}

func TestCancellationFlagAndReport(t *testing.T) {
	rec := &recordingReporter{}
	b := newTestBase(rec)

	assert.False(t, b.IsCancellationRequested())
	assert.False(t, b.CheckCancellationAndReport())
	assert.Empty(t, rec.results())

	b.RequestCancel()
	assert.True(t, b.IsCancellationRequested())

	require.True(t, b.CheckCancellationAndReport())
	results := rec.results()
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "Task was cancelled", results[0].FirstText())
}

func TestCancelledCompletionWinsOverLater(t *testing.T) {
	rec := &recordingReporter{}
	b := newTestBase(rec)

	b.RequestCancel()
	require.True(t, b.CheckCancellationAndReport())

	// A slow worker reporting afterwards must be ignored.
	b.ReportComplete(protocol.NewToolResultText("late result"))

	results := rec.results()
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
}

func TestProgressForwarding(t *testing.T) {
	rec := &recordingReporter{}
	b := newTestBase(rec)

	b.ReportProgress(0.05, "starting")
	b.ReportProgress(0.5, "halfway")
	b.ReportProgress(1.0, "done")

	assert.Equal(t, []float64{0.05, 0.5, 1.0}, rec.progressEvents())
}

func TestProgressAfterCompletionDropped(t *testing.T) {
	rec := &recordingReporter{}
	b := newTestBase(rec)

	b.ReportComplete(protocol.NewToolResultText("done"))
	b.ReportProgress(0.9, "late")

	assert.Empty(t, rec.progressEvents())
}
