package server

import (
	"encoding/json"
	"fmt"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

const (
	resourceCurrentBlueprint = "nodetocode://blueprint/current"
	resourceAllBlueprints    = "nodetocode://blueprints/all"
)

func (s *Server) listResources() *protocol.ListResourcesResult {
	return &protocol.ListResourcesResult{
		Resources: []protocol.Resource{
			{
				URI:         resourceCurrentBlueprint,
				Name:        "Focused Blueprint",
				Description: "JSON serialization of the Blueprint currently focused in the editor",
				MimeType:    "application/json",
			},
			{
				URI:         resourceAllBlueprints,
				Name:        "All Blueprints",
				Description: "Index of every Blueprint visible to the editor bridge",
				MimeType:    "application/json",
			},
		},
	}
}

func (s *Server) readResource(uri string) (*protocol.ReadResourceResult, error) {
	switch uri {
	case resourceCurrentBlueprint:
		graph, err := s.bridge.FocusedBlueprintJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to read focused Blueprint: %w", err)
		}
		return singleJSONResource(uri, string(graph)), nil

	case resourceAllBlueprints:
		infos, err := s.bridge.AllBlueprints()
		if err != nil {
			return nil, fmt.Errorf("failed to list Blueprints: %w", err)
		}
		// Index only; graphs are read through the current-blueprint
		// resource or the tools.
		type indexEntry struct {
			Name string `json:"name"`
			Path string `json:"path"`
		}
		index := make([]indexEntry, len(infos))
		for i, info := range infos {
			index[i] = indexEntry{Name: info.Name, Path: info.Path}
		}
		payload, err := json.Marshal(index)
		if err != nil {
			return nil, fmt.Errorf("failed to encode Blueprint index: %w", err)
		}
		return singleJSONResource(uri, string(payload)), nil

	default:
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
}

func singleJSONResource(uri, text string) *protocol.ReadResourceResult {
	return &protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{
			{URI: uri, MimeType: "application/json", Text: text},
		},
	}
}
