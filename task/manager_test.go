package task

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

type fakeRelay struct {
	mu        sync.Mutex
	progress  []*protocol.Notification
	responses map[uuid.UUID]*protocol.Response
	released  []uuid.UUID
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{responses: make(map[uuid.UUID]*protocol.Response)}
}

func (r *fakeRelay) SendTaskProgress(taskID uuid.UUID, n *protocol.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, n)
	return true
}

func (r *fakeRelay) SendTaskResponse(taskID uuid.UUID, resp *protocol.Response) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[taskID] = resp
	return true
}

func (r *fakeRelay) ReleaseTaskStream(taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, taskID)
}

func (r *fakeRelay) responseFor(taskID uuid.UUID) *protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responses[taskID]
}

func (r *fakeRelay) progressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

func (r *fakeRelay) releasedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.released...)
}

// blockingTask reports one progress step, then waits for release before
// completing.
type blockingTask struct {
	Base
	release chan struct{}
	result  *protocol.CallToolResult
}

func (t *blockingTask) Execute() {
	t.ReportProgress(0.25, "working")
	<-t.release
	if t.CheckCancellationAndReport() {
		return
	}
	t.ReportComplete(t.result)
}

func blockingFactory(release chan struct{}, result *protocol.CallToolResult) Factory {
	return func(taskID uuid.UUID, token string, args json.RawMessage, logger *slog.Logger) AsyncTask {
		return &blockingTask{
			Base:    NewBase(taskID, token, "blocking-tool", args, logger),
			release: release,
			result:  result,
		}
	}
}

func newTestManager(t *testing.T, relay TransportRelay) *Manager {
	t.Helper()
	m := NewManager(relay, slog.Default(), ManagerOptions{MaxWorkers: 2})
	t.Cleanup(m.Close)
	return m
}

func TestLaunchUnknownToolFails(t *testing.T) {
	m := newTestManager(t, newFakeRelay())

	got := m.LaunchTask(uuid.New(), "no-such-tool", nil, "tok", "sess", nil)
	assert.Equal(t, uuid.Nil, got)
}

func TestLaunchDuplicateProgressTokenFails(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	defer close(release)
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	first := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok", "sess", nil)
	require.NotEqual(t, uuid.Nil, first)

	second := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok", "sess", nil)
	assert.Equal(t, uuid.Nil, second)
}

func TestLaunchConcurrentSameProgressToken(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	defer close(release)
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	const attempts = 16
	var (
		start sync.WaitGroup
		done  sync.WaitGroup
		mu    sync.Mutex
		won   []uuid.UUID
	)
	start.Add(1)
	for i := 0; i < attempts; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			if id := m.LaunchTask(uuid.New(), "blocking-tool", nil, "shared-token", "sess", nil); id != uuid.Nil {
				mu.Lock()
				won = append(won, id)
				mu.Unlock()
			}
		}()
	}
	start.Done()
	done.Wait()

	// Exactly one launch may claim the token.
	require.Len(t, won, 1)
	tctx, ok := m.GetTaskContextByProgressToken("shared-token")
	require.True(t, ok)
	assert.Equal(t, won[0], tctx.TaskID)
}

func TestLaunchNilFactoryReleasesToken(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	m.RegisterFactory("broken-tool", func(uuid.UUID, string, json.RawMessage, *slog.Logger) AsyncTask {
		return nil
	})
	release := make(chan struct{})
	defer close(release)
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	got := m.LaunchTask(uuid.New(), "broken-tool", nil, "tok", "sess", nil)
	require.Equal(t, uuid.Nil, got)

	// The failed launch must not leave the token reserved.
	got = m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok", "sess", nil)
	assert.NotEqual(t, uuid.Nil, got)
}

func TestTaskLifecycle(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("done")))

	requestID := json.RawMessage(`42`)
	taskID := m.LaunchTask(uuid.New(), "blocking-tool", json.RawMessage(`{}`), "tok-life", "sess", requestID)
	require.NotEqual(t, uuid.Nil, taskID)

	require.Eventually(t, func() bool { return relay.progressCount() > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.IsTaskRunning(taskID))
	assert.Contains(t, m.GetRunningTaskIds(), taskID)

	tctx, ok := m.GetTaskContextByProgressToken("tok-life")
	require.True(t, ok)
	assert.Equal(t, taskID, tctx.TaskID)
	assert.Equal(t, "blocking-tool", tctx.ToolName)

	close(release)
	require.Eventually(t, func() bool { return relay.responseFor(taskID) != nil }, time.Second, 5*time.Millisecond)

	resp := relay.responseFor(taskID)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.Equal(t, requestID, resp.ID)

	require.Eventually(t, func() bool { return !m.IsTaskRunning(taskID) }, time.Second, 5*time.Millisecond)
}

func TestProgressConvertedToPercentage(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	taskID := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok-pct", "sess", nil)
	require.NotEqual(t, uuid.Nil, taskID)
	require.Eventually(t, func() bool { return relay.progressCount() > 0 }, time.Second, 5*time.Millisecond)
	close(release)

	relay.mu.Lock()
	params, ok := relay.progress[0].Params.(*protocol.ProgressParams)
	relay.mu.Unlock()
	require.True(t, ok)
	assert.InDelta(t, 25.0, params.Progress, 0.001)
	assert.Equal(t, "tok-pct", params.ProgressToken)
}

func TestErrorResultBecomesJSONRPCError(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultError("translation failed: boom")))

	requestID := json.RawMessage(`"req-1"`)
	taskID := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok-err", "sess", requestID)
	require.NotEqual(t, uuid.Nil, taskID)
	close(release)

	require.Eventually(t, func() bool { return relay.responseFor(taskID) != nil }, time.Second, 5*time.Millisecond)
	resp := relay.responseFor(taskID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
	assert.Equal(t, "translation failed: boom", resp.Error.Message)
}

func TestCancelByProgressToken(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	assert.False(t, m.CancelTaskByProgressToken("missing"))

	taskID := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok-cancel", "sess", nil)
	require.NotEqual(t, uuid.Nil, taskID)

	require.True(t, m.CancelTaskByProgressToken("tok-cancel"))
	close(release)

	require.Eventually(t, func() bool { return relay.responseFor(taskID) != nil }, time.Second, 5*time.Millisecond)
	resp := relay.responseFor(taskID)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "cancelled")

	// A finished task can no longer be cancelled, even before cleanup.
	require.Eventually(t, func() bool { return !m.IsTaskRunning(taskID) }, time.Second, 5*time.Millisecond)
	assert.False(t, m.CancelTaskByProgressToken("tok-cancel"))
}

func TestCleanupCompletedTasks(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	keepRelease := make(chan struct{})
	m.RegisterFactory("keep-tool", blockingFactory(keepRelease, protocol.NewToolResultText("kept")))
	defer close(keepRelease)

	doneID := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok-done", "sess", nil)
	keepID := m.LaunchTask(uuid.New(), "keep-tool", nil, "tok-keep", "sess", nil)
	require.NotEqual(t, uuid.Nil, doneID)
	require.NotEqual(t, uuid.Nil, keepID)

	close(release)
	require.Eventually(t, func() bool { return !m.IsTaskRunning(doneID) }, time.Second, 5*time.Millisecond)

	m.CleanupCompletedTasks()

	_, ok := m.GetTaskContext(doneID)
	assert.False(t, ok)
	_, ok = m.GetTaskContextByProgressToken("tok-done")
	assert.False(t, ok)
	assert.Equal(t, []uuid.UUID{doneID}, relay.releasedIDs())

	// The running task survives the sweep with both lookups intact.
	_, ok = m.GetTaskContext(keepID)
	assert.True(t, ok)
	_, ok = m.GetTaskContextByProgressToken("tok-keep")
	assert.True(t, ok)
}

func TestCancelAllTasks(t *testing.T) {
	relay := newFakeRelay()
	m := newTestManager(t, relay)
	release := make(chan struct{})
	defer close(release)
	m.RegisterFactory("blocking-tool", blockingFactory(release, protocol.NewToolResultText("ok")))

	a := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok-a", "sess", nil)
	b := m.LaunchTask(uuid.New(), "blocking-tool", nil, "tok-b", "sess", nil)
	require.NotEqual(t, uuid.Nil, a)
	require.NotEqual(t, uuid.Nil, b)

	m.CancelAllTasks()

	ctxA, _ := m.GetTaskContext(a)
	ctxB, _ := m.GetTaskContext(b)
	assert.True(t, ctxA.Task.IsCancellationRequested())
	assert.True(t, ctxB.Task.IsCancellationRequested())
}
