package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExport(t *testing.T, dir, name, content string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestDirBridge(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeExport(t, dir, "OldBlueprint.json", `{"name":"old"}`, now.Add(-time.Hour))
	writeExport(t, dir, "NewBlueprint.json", `{"name":"new"}`, now)
	writeExport(t, dir, "broken.json", `{not json`, now)
	writeExport(t, dir, "notes.txt", `ignored`, now)

	b := NewDirBridge(dir)

	infos, err := b.AllBlueprints()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "NewBlueprint", infos[0].Name)
	assert.Equal(t, "OldBlueprint", infos[1].Name)

	focused, err := b.FocusedBlueprintJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"new"}`, string(focused))
}

func TestDirBridgeEmpty(t *testing.T) {
	b := NewDirBridge(t.TempDir())

	infos, err := b.AllBlueprints()
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = b.FocusedBlueprintJSON()
	assert.Error(t, err)
}

func TestDirBridgeMissingDir(t *testing.T) {
	b := NewDirBridge(filepath.Join(t.TempDir(), "nope"))
	_, err := b.AllBlueprints()
	assert.Error(t, err)
}

func TestBlueprintTools(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeExport(t, dir, "PlayerController.json", `{"nodes":[]}`, now)
	writeExport(t, dir, "EnemyAI.json", `{"nodes":[]}`, now.Add(-time.Minute))

	r := NewRegistry()
	require.NoError(t, RegisterBlueprintTools(r, NewDirBridge(dir)))

	result, err := r.Call(context.Background(), ToolGetFocusedBlueprint, nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"nodes":[]}`, result.FirstText())

	result, err = r.Call(context.Background(), ToolListBlueprints, json.RawMessage(`{"filter":"player"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var listed []BlueprintInfo
	require.NoError(t, json.Unmarshal([]byte(result.FirstText()), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "PlayerController", listed[0].Name)
}
