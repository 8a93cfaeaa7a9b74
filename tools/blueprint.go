package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// BlueprintInfo describes one Blueprint known to the editor bridge.
type BlueprintInfo struct {
	Name  string          `json:"name"`
	Path  string          `json:"path"`
	Graph json.RawMessage `json:"graph,omitempty"`
}

// EditorBridge exposes the editor's Blueprint state to the server. The real
// bridge lives inside the engine; a directory-backed implementation covers
// headless runs and tests.
type EditorBridge interface {
	// FocusedBlueprintJSON serializes the Blueprint graph currently open
	// in the editor.
	FocusedBlueprintJSON() (json.RawMessage, error)

	// AllBlueprints lists every Blueprint the bridge can see.
	AllBlueprints() ([]BlueprintInfo, error)
}

// Tool name constants for the synchronous Blueprint tools.
const (
	ToolGetFocusedBlueprint    = "get-focused-blueprint"
	ToolListBlueprints         = "list-blueprints"
	ToolListBlueprintFunctions = "list-blueprint-functions"
	ToolSearchBlueprintNodes   = "search-blueprint-nodes"
)

type getFocusedArgs struct{}

type listBlueprintsArgs struct {
	Filter string `json:"filter,omitempty" jsonschema:"description=Optional substring filter on Blueprint names"`
}

// RegisterBlueprintTools adds the synchronous Blueprint tools backed by the
// bridge.
func RegisterBlueprintTools(r *Registry, bridge EditorBridge) error {
	err := r.Register(ToolGetFocusedBlueprint,
		"Returns the JSON serialization of the Blueprint graph currently focused in the editor.",
		getFocusedArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			graph, err := bridge.FocusedBlueprintJSON()
			if err != nil {
				return protocol.NewToolResultError(fmt.Sprintf("failed to read focused Blueprint: %v", err)), nil
			}
			return protocol.NewToolResultText(string(graph)), nil
		})
	if err != nil {
		return err
	}

	err = r.Register(ToolListBlueprints,
		"Lists the Blueprints available to the editor bridge.",
		listBlueprintsArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			var p listBlueprintsArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return protocol.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
				}
			}

			infos, err := bridge.AllBlueprints()
			if err != nil {
				return protocol.NewToolResultError(fmt.Sprintf("failed to list Blueprints: %v", err)), nil
			}

			filtered := infos[:0:0]
			for _, info := range infos {
				if p.Filter == "" || containsFold(info.Name, p.Filter) {
					filtered = append(filtered, BlueprintInfo{Name: info.Name, Path: info.Path})
				}
			}

			payload, err := json.Marshal(filtered)
			if err != nil {
				return nil, fmt.Errorf("failed to encode Blueprint list: %w", err)
			}
			return protocol.NewToolResultText(string(payload)), nil
		})
	if err != nil {
		return err
	}

	err = r.Register(ToolListBlueprintFunctions,
		"Lists all functions defined in a Blueprint with their node counts.",
		listFunctionsArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			var p listFunctionsArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &p); err != nil {
					return protocol.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
				}
			}

			name, path, doc, errResult := resolveBlueprint(bridge, p.BlueprintPath)
			if errResult != nil {
				return errResult, nil
			}

			functions := make([]functionInfo, 0, len(doc.Graphs))
			for _, g := range doc.Graphs {
				if !strings.EqualFold(g.GraphType, "Function") {
					continue
				}
				functions = append(functions, functionInfo{
					Name:      g.Name,
					NodeCount: len(g.Nodes),
				})
			}

			payload, err := json.Marshal(map[string]any{
				"blueprintName": name,
				"blueprintPath": path,
				"functions":     functions,
				"functionCount": len(functions),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode function list: %w", err)
			}
			return protocol.NewToolResultText(string(payload)), nil
		})
	if err != nil {
		return err
	}

	return r.Register(ToolSearchBlueprintNodes,
		"Searches the nodes of a Blueprint for a text query across node names, types and member references.",
		searchNodesArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			var p searchNodesArgs
			if err := json.Unmarshal(args, &p); err != nil {
				return protocol.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			if p.SearchTerm == "" {
				return protocol.NewToolResultError("searchTerm must not be empty"), nil
			}
			maxResults := p.MaxResults
			if maxResults < 1 {
				maxResults = 20
			}
			if maxResults > 100 {
				maxResults = 100
			}

			_, _, doc, errResult := resolveBlueprint(bridge, p.BlueprintPath)
			if errResult != nil {
				return errResult, nil
			}

			matches := make([]nodeMatch, 0, maxResults)
			truncated := false
		search:
			for _, g := range doc.Graphs {
				for _, n := range g.Nodes {
					if !n.matches(p.SearchTerm) {
						continue
					}
					if len(matches) == maxResults {
						truncated = true
						break search
					}
					matches = append(matches, nodeMatch{
						Graph:      g.Name,
						ID:         n.id(),
						Name:       n.Name,
						Type:       n.Type,
						MemberName: n.MemberName,
					})
				}
			}

			payload, err := json.Marshal(map[string]any{
				"searchTerm":  p.SearchTerm,
				"nodes":       matches,
				"resultCount": len(matches),
				"truncated":   truncated,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode search results: %w", err)
			}
			return protocol.NewToolResultText(string(payload)), nil
		})
}

type listFunctionsArgs struct {
	BlueprintPath string `json:"blueprintPath,omitempty" jsonschema:"description=Asset path of the Blueprint; defaults to the focused Blueprint"`
}

type searchNodesArgs struct {
	SearchTerm    string `json:"searchTerm" jsonschema:"description=The text query to search for"`
	BlueprintPath string `json:"blueprintPath,omitempty" jsonschema:"description=Asset path of the Blueprint; defaults to the focused Blueprint"`
	MaxResults    int    `json:"maxResults,omitempty" jsonschema:"description=Maximum number of results to return,default=20,minimum=1,maximum=100"`
}

type functionInfo struct {
	Name      string `json:"name"`
	NodeCount int    `json:"nodeCount"`
}

type nodeMatch struct {
	Graph      string `json:"graph"`
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	MemberName string `json:"memberName,omitempty"`
}

// blueprintDoc mirrors the slice of the serialized Blueprint structure the
// graph tools inspect. Unknown fields are ignored.
type blueprintDoc struct {
	Name   string         `json:"name"`
	Graphs []graphSummary `json:"graphs"`
}

type graphSummary struct {
	Name      string        `json:"name"`
	GraphType string        `json:"graph_type"`
	Nodes     []nodeSummary `json:"nodes"`
}

type nodeSummary struct {
	// RawID is either a plain string or an object carrying a short id,
	// depending on the exporter version.
	RawID      json.RawMessage `json:"id"`
	IDs        *nodeIDs        `json:"ids"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	MemberName string          `json:"member_name"`
	Comment    string          `json:"comment"`
}

type nodeIDs struct {
	Short string `json:"short"`
}

func (n nodeSummary) id() string {
	var s string
	if len(n.RawID) > 0 && json.Unmarshal(n.RawID, &s) == nil {
		return s
	}
	if n.IDs != nil {
		return n.IDs.Short
	}
	return ""
}

func (n nodeSummary) matches(term string) bool {
	return containsFold(n.Name, term) ||
		containsFold(n.Type, term) ||
		containsFold(n.MemberName, term) ||
		containsFold(n.Comment, term)
}

// resolveBlueprint loads and parses the Blueprint the tool should operate
// on: the one at path, or the focused one when path is empty. Error results
// keep the original plugin's error codes.
func resolveBlueprint(bridge EditorBridge, path string) (name, resolvedPath string, doc blueprintDoc, errResult *protocol.CallToolResult) {
	var raw json.RawMessage
	if path == "" {
		var err error
		raw, err = bridge.FocusedBlueprintJSON()
		if err != nil {
			return "", "", doc, protocol.NewToolResultError(
				fmt.Sprintf("NO_ACTIVE_BLUEPRINT: no blueprint path provided and no focused Blueprint: %v", err))
		}
	} else {
		infos, err := bridge.AllBlueprints()
		if err != nil {
			return "", "", doc, protocol.NewToolResultError(
				fmt.Sprintf("failed to list Blueprints: %v", err))
		}
		for _, info := range infos {
			if info.Path == path || info.Name == path {
				raw = info.Graph
				name = info.Name
				resolvedPath = info.Path
				break
			}
		}
		if raw == nil {
			return "", "", doc, protocol.NewToolResultError(
				fmt.Sprintf("ASSET_NOT_FOUND: Blueprint not found at path: %s", path))
		}
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", "", doc, protocol.NewToolResultError(
			fmt.Sprintf("failed to parse Blueprint JSON: %v", err))
	}
	if name == "" {
		name = doc.Name
	}
	return name, resolvedPath, doc, nil
}
