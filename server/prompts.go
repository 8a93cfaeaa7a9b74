package server

import (
	"fmt"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

const (
	promptGenerateCode     = "generate-code"
	promptAnalyzeBlueprint = "analyze-blueprint"
)

func (s *Server) listPrompts() *protocol.ListPromptsResult {
	return &protocol.ListPromptsResult{
		Prompts: []protocol.Prompt{
			{
				Name:        promptGenerateCode,
				Description: "Prompt template for translating the focused Blueprint into source code",
				Arguments: []protocol.PromptArgument{
					{Name: "target_language", Description: "Language to generate, e.g. cpp or python", Required: true},
				},
			},
			{
				Name:        promptAnalyzeBlueprint,
				Description: "Prompt template for reviewing the focused Blueprint's structure",
				Arguments: []protocol.PromptArgument{
					{Name: "focus", Description: "Optional aspect to concentrate on, e.g. performance"},
				},
			},
		},
	}
}

func (s *Server) getPrompt(name string, args map[string]string) (*protocol.GetPromptResult, error) {
	graph, err := s.bridge.FocusedBlueprintJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to read focused Blueprint: %w", err)
	}

	switch name {
	case promptGenerateCode:
		lang := args["target_language"]
		if lang == "" {
			return nil, fmt.Errorf("missing required argument: target_language")
		}
		return &protocol.GetPromptResult{
			Description: "Translate the focused Blueprint",
			Messages: []protocol.PromptMessage{{
				Role: "user",
				Content: protocol.TextContent{
					Type: protocol.ContentTypeText,
					Text: fmt.Sprintf("Translate the following Unreal Engine Blueprint graph into %s. "+
						"Return only the code.\n\n%s", lang, string(graph)),
				},
			}},
		}, nil

	case promptAnalyzeBlueprint:
		focus := args["focus"]
		instruction := "Analyze the following Unreal Engine Blueprint graph. Describe its " +
			"structure, entry points and data flow, and point out potential problems."
		if focus != "" {
			instruction = fmt.Sprintf("%s Concentrate on %s.", instruction, focus)
		}
		return &protocol.GetPromptResult{
			Description: "Review the focused Blueprint",
			Messages: []protocol.PromptMessage{{
				Role: "user",
				Content: protocol.TextContent{
					Type: protocol.ContentTypeText,
					Text: fmt.Sprintf("%s\n\n%s", instruction, string(graph)),
				},
			}},
		}, nil

	default:
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}
}
