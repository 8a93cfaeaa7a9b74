package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBlueprint = `{
	"name": "BP_Door",
	"graphs": [
		{
			"name": "EventGraph",
			"graph_type": "EventGraph",
			"nodes": [
				{"id": "N1", "name": "Event BeginPlay", "type": "Event"},
				{"id": "N2", "name": "Open Door", "type": "CallFunction", "member_name": "OpenDoor"}
			]
		},
		{
			"name": "OpenDoor",
			"graph_type": "Function",
			"nodes": [
				{"id": "N3", "name": "Function Entry", "type": "FunctionEntry"},
				{"id": "N4", "name": "Play Timeline", "type": "CallFunction", "member_name": "Play"},
				{"id": "N5", "name": "Set Is Open", "type": "VariableSet", "comment": "door state"}
			]
		},
		{
			"name": "CloseDoor",
			"graph_type": "Function",
			"nodes": [
				{"id": "N6", "name": "Function Entry", "type": "FunctionEntry"}
			]
		}
	]
}`

func newGraphToolRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	writeExport(t, dir, "BP_Door.json", sampleBlueprint, time.Now())

	r := NewRegistry()
	require.NoError(t, RegisterBlueprintTools(r, NewDirBridge(dir)))
	return r
}

func TestListBlueprintFunctions(t *testing.T) {
	r := newGraphToolRegistry(t)

	result, err := r.Call(context.Background(), ToolListBlueprintFunctions, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got struct {
		BlueprintName string         `json:"blueprintName"`
		Functions     []functionInfo `json:"functions"`
		FunctionCount int            `json:"functionCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.FirstText()), &got))

	assert.Equal(t, "BP_Door", got.BlueprintName)
	assert.Equal(t, 2, got.FunctionCount)
	require.Len(t, got.Functions, 2)
	assert.Equal(t, functionInfo{Name: "OpenDoor", NodeCount: 3}, got.Functions[0])
	assert.Equal(t, functionInfo{Name: "CloseDoor", NodeCount: 1}, got.Functions[1])
}

func TestListBlueprintFunctionsByPath(t *testing.T) {
	r := newGraphToolRegistry(t)

	result, err := r.Call(context.Background(), ToolListBlueprintFunctions,
		json.RawMessage(`{"blueprintPath":"BP_Door"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = r.Call(context.Background(), ToolListBlueprintFunctions,
		json.RawMessage(`{"blueprintPath":"/Game/Missing"}`))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, result.FirstText(), "ASSET_NOT_FOUND")
}

func TestSearchBlueprintNodes(t *testing.T) {
	r := newGraphToolRegistry(t)

	result, err := r.Call(context.Background(), ToolSearchBlueprintNodes,
		json.RawMessage(`{"searchTerm":"door"}`))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got struct {
		Nodes       []nodeMatch `json:"nodes"`
		ResultCount int         `json:"resultCount"`
		Truncated   bool        `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.FirstText()), &got))

	// Matches "Open Door" by name and the "door state" comment.
	assert.Equal(t, 2, got.ResultCount)
	assert.False(t, got.Truncated)
	assert.Equal(t, "EventGraph", got.Nodes[0].Graph)
	assert.Equal(t, "N2", got.Nodes[0].ID)
}

func TestSearchBlueprintNodesMaxResults(t *testing.T) {
	r := newGraphToolRegistry(t)

	result, err := r.Call(context.Background(), ToolSearchBlueprintNodes,
		json.RawMessage(`{"searchTerm":"e","maxResults":2}`))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got struct {
		Nodes     []nodeMatch `json:"nodes"`
		Truncated bool        `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.FirstText()), &got))
	assert.Len(t, got.Nodes, 2)
	assert.True(t, got.Truncated)
}

func TestSearchBlueprintNodesEmptyTerm(t *testing.T) {
	r := newGraphToolRegistry(t)

	result, err := r.Call(context.Background(), ToolSearchBlueprintNodes,
		json.RawMessage(`{"searchTerm":""}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestNodeSummaryID(t *testing.T) {
	var n nodeSummary
	require.NoError(t, json.Unmarshal([]byte(`{"id":"N7"}`), &n))
	assert.Equal(t, "N7", n.id())

	n = nodeSummary{}
	require.NoError(t, json.Unmarshal([]byte(`{"ids":{"short":"N8","guid":"abc"}}`), &n))
	assert.Equal(t, "N8", n.id())
}
