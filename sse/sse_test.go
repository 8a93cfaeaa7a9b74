package sse

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "event: progress\ndata: a\ndata: b\n\n", FormatEvent("progress", "a\nb"))
	assert.Equal(t, "data: x\n\n", FormatEvent("", "x"))
	assert.Equal(t, "event: message\ndata: \n\n", FormatEvent("message", ""))
}

func newTestConnection(t *testing.T, m *Manager, taskID uuid.UUID, token string) (*Connection, *httptest.ResponseRecorder) {
	t.Helper()
	rr := httptest.NewRecorder()
	conn, err := m.CreateConnection(rr, taskID, token, "sess-1", json.RawMessage(`7`))
	require.NoError(t, err)
	return conn, rr
}

func TestCreateConnection(t *testing.T) {
	m := NewManager(nil, 0)
	taskID := uuid.New()
	conn, rr := newTestConnection(t, m, taskID, "tok-1")

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "sess-1", rr.Header().Get("Mcp-Session-Id"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, ": Connection established\n\n"))
	assert.Contains(t, body, "event: notification\n")
	assert.Contains(t, body, "nodetocode/taskStarted")
	assert.Contains(t, body, taskID.String())

	assert.True(t, conn.Active())
	assert.Equal(t, 1, m.ConnectionCount())
}

func TestSendProgressNotification(t *testing.T) {
	m := NewManager(nil, 0)
	taskID := uuid.New()
	_, rr := newTestConnection(t, m, taskID, "tok-2")

	n := protocol.NewNotification(protocol.NotificationProgress, &protocol.ProgressParams{
		ProgressToken: "tok-2",
		Progress:      25,
		Message:       "working",
	})
	require.True(t, m.SendProgressNotification(taskID, n))

	body := rr.Body.String()
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, `"progress":25`)

	assert.False(t, m.SendProgressNotification(uuid.New(), n))
}

func TestSendFinalResponse(t *testing.T) {
	m := NewManager(nil, 0)
	taskID := uuid.New()
	conn, rr := newTestConnection(t, m, taskID, "tok-3")

	resp := protocol.NewResponse(json.RawMessage(`7`), protocol.NewToolResultText("code"))
	require.True(t, m.SendFinalResponse(taskID, resp))

	body := rr.Body.String()
	assert.Contains(t, body, "event: response\n")
	assert.Contains(t, body, `"id":7`)
	assert.Contains(t, body, "code")

	assert.False(t, conn.Active())
	select {
	case <-conn.Done():
	default:
		t.Fatal("final response must release the waiting handler")
	}

	// A finished stream takes no further frames.
	n := protocol.NewNotification(protocol.NotificationProgress, &protocol.ProgressParams{ProgressToken: "tok-3"})
	assert.False(t, m.SendProgressNotification(taskID, n))
	assert.False(t, m.SendFinalResponse(taskID, resp))
}

func TestFindConnection(t *testing.T) {
	m := NewManager(nil, 0)
	taskID := uuid.New()
	conn, _ := newTestConnection(t, m, taskID, "tok-4")

	assert.Equal(t, conn, m.FindConnectionByTaskID(taskID))
	assert.Equal(t, conn, m.FindConnectionByProgressToken("tok-4"))
	assert.Nil(t, m.FindConnectionByTaskID(uuid.New()))
	assert.Nil(t, m.FindConnectionByProgressToken("missing"))
}

func TestCloseConnection(t *testing.T) {
	m := NewManager(nil, 0)
	taskID := uuid.New()
	conn, _ := newTestConnection(t, m, taskID, "tok-5")

	m.CloseConnection(conn.ID)
	assert.Equal(t, 0, m.ConnectionCount())
	assert.False(t, conn.Active())
	select {
	case <-conn.Done():
	default:
		t.Fatal("closing must release the waiting handler")
	}
}

func TestReleaseTaskStream(t *testing.T) {
	m := NewManager(nil, 0)
	taskID := uuid.New()
	conn, _ := newTestConnection(t, m, taskID, "tok-6")

	m.ReleaseTaskStream(taskID)
	assert.Equal(t, 0, m.ConnectionCount())
	assert.False(t, conn.Active())
}

func TestCleanupInactiveConnections(t *testing.T) {
	m := NewManager(nil, time.Hour)
	doneID := uuid.New()
	liveID := uuid.New()
	newTestConnection(t, m, doneID, "tok-done")
	liveConn, _ := newTestConnection(t, m, liveID, "tok-live")

	require.True(t, m.SendFinalResponse(doneID, protocol.NewResponse(nil, protocol.EmptyResult{})))
	m.CleanupInactiveConnections()

	assert.Equal(t, 1, m.ConnectionCount())
	assert.Equal(t, liveConn, m.FindConnectionByTaskID(liveID))
}

func TestCloseAllConnections(t *testing.T) {
	m := NewManager(nil, 0)
	a, _ := newTestConnection(t, m, uuid.New(), "tok-a")
	b, _ := newTestConnection(t, m, uuid.New(), "tok-b")

	m.CloseAllConnections()
	assert.Equal(t, 0, m.ConnectionCount())
	assert.False(t, a.Active())
	assert.False(t, b.Active())
}
