package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

type echoArgs struct {
	Text string `json:"text"`
}

func newEchoRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	err := r.Register("echo", "Echoes its input.", echoArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			var p echoArgs
			if err := json.Unmarshal(args, &p); err != nil {
				return nil, err
			}
			return protocol.NewToolResultText(p.Text), nil
		})
	require.NoError(t, err)
	return r
}

func TestRegisterAndList(t *testing.T) {
	r := newEchoRegistry(t)
	require.NoError(t, r.RegisterAsync("async-tool", "Runs in the background.", nil))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "async-tool", list[0].Name)
	assert.Equal(t, "echo", list[1].Name)
	assert.NotEmpty(t, list[1].InputSchema)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := newEchoRegistry(t)
	err := r.Register("echo", "dup", echoArgs{}, nil)
	assert.Error(t, err)
}

func TestIsAsync(t *testing.T) {
	r := newEchoRegistry(t)
	require.NoError(t, r.RegisterAsync("async-tool", "bg", nil))

	async, known := r.IsAsync("echo")
	assert.True(t, known)
	assert.False(t, async)

	async, known = r.IsAsync("async-tool")
	assert.True(t, known)
	assert.True(t, async)

	_, known = r.IsAsync("nope")
	assert.False(t, known)
}

func TestValidate(t *testing.T) {
	r := newEchoRegistry(t)

	assert.NoError(t, r.Validate("echo", json.RawMessage(`{"text":"hi"}`)))
	assert.Error(t, r.Validate("echo", json.RawMessage(`{"text":42}`)))
	assert.Error(t, r.Validate("echo", json.RawMessage(`not json`)))
	assert.Error(t, r.Validate("missing", json.RawMessage(`{}`)))
}

func TestCall(t *testing.T) {
	r := newEchoRegistry(t)

	result, err := r.Call(context.Background(), "echo", json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", result.FirstText())

	// Schema violations come back as tool errors, not Go errors.
	result, err = r.Call(context.Background(), "echo", json.RawMessage(`{"text":7}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	_, err = r.Call(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestCallAsyncToolHasNoHandler(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAsync("async-tool", "bg", nil))

	_, err := r.Call(context.Background(), "async-tool", nil)
	assert.Error(t, err)
}
