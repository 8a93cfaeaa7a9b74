package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// Tool name constants for the translation support tools.
const (
	ToolListTranslationTargets = "get-available-translation-targets"
	ToolListLLMProviders       = "get-available-llm-providers"
)

// DefaultTargetLanguage is used when a translation request does not name one.
const DefaultTargetLanguage = "cpp"

// TranslationTarget describes one language the translator can emit.
type TranslationTarget struct {
	ID                          string   `json:"id"`
	DisplayName                 string   `json:"displayName"`
	Description                 string   `json:"description"`
	FileExtensions              []string `json:"fileExtensions"`
	Category                    string   `json:"category"`
	Features                    string   `json:"features"`
	SyntaxHighlightingSupported bool     `json:"syntaxHighlightingSupported"`
}

// translationTargets is the full language catalogue. Every entry here is
// accepted as a target_language by the translate tool.
var translationTargets = []TranslationTarget{
	{
		ID:                          "cpp",
		DisplayName:                 "C++",
		Description:                 "C++ with Unreal Engine conventions and best practices",
		FileExtensions:              []string{".h", ".cpp"},
		Category:                    "compiled",
		Features:                    "Header/source separation, UPROPERTY/UFUNCTION macros, full UE5 API compatibility",
		SyntaxHighlightingSupported: true,
	},
	{
		ID:                          "python",
		DisplayName:                 "Python",
		Description:                 "Python 3 with type hints and PEP 8 compliance",
		FileExtensions:              []string{".py"},
		Category:                    "scripted",
		Features:                    "Type annotations, async/await support, clean pythonic idioms",
		SyntaxHighlightingSupported: true,
	},
	{
		ID:                          "javascript",
		DisplayName:                 "JavaScript",
		Description:                 "Modern JavaScript (ECMAScript 2022+) with clean syntax",
		FileExtensions:              []string{".js"},
		Category:                    "scripted",
		Features:                    "ES6+ features, arrow functions, destructuring, async/await",
		SyntaxHighlightingSupported: true,
	},
	{
		ID:                          "csharp",
		DisplayName:                 "C#",
		Description:                 "C# with Unity-compatible conventions",
		FileExtensions:              []string{".cs"},
		Category:                    "compiled",
		Features:                    "Properties, LINQ-style operations, Unity MonoBehaviour patterns",
		SyntaxHighlightingSupported: true,
	},
	{
		ID:                          "swift",
		DisplayName:                 "Swift",
		Description:                 "Swift 5+ for iOS/macOS development",
		FileExtensions:              []string{".swift"},
		Category:                    "compiled",
		Features:                    "Optionals, protocols, SwiftUI compatibility, modern Swift patterns",
		SyntaxHighlightingSupported: true,
	},
	{
		ID:                          "pseudocode",
		DisplayName:                 "Pseudocode",
		Description:                 "Human-readable algorithmic representation for documentation",
		FileExtensions:              []string{".md", ".txt"},
		Category:                    "pseudocode",
		Features:                    "Plain English descriptions, structured flow, ideal for documentation",
		SyntaxHighlightingSupported: true,
	},
}

// IsKnownTargetLanguage reports whether id names a language in the catalogue.
func IsKnownTargetLanguage(id string) bool {
	for _, t := range translationTargets {
		if t.ID == id {
			return true
		}
	}
	return false
}

// LLMBackend is the slice of the server configuration the provider tool
// reports on.
type LLMBackend struct {
	Endpoint string
	Model    string
}

type providerInfo struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Configured   bool   `json:"configured"`
	IsLocal      bool   `json:"isLocal"`
	CurrentModel string `json:"currentModel,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
}

type emptyArgs struct{}

// RegisterTranslationTools adds the translation support tools: the language
// catalogue and the configured LLM backend description.
func RegisterTranslationTools(r *Registry, backend LLMBackend) error {
	err := r.Register(ToolListTranslationTargets,
		"Returns the list of programming languages that NodeToCode can translate Blueprints into, including metadata about each language.",
		emptyArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			payload, err := json.Marshal(map[string]any{
				"languages":       translationTargets,
				"defaultLanguage": DefaultTargetLanguage,
				"currentLanguage": DefaultTargetLanguage,
				"languageCount":   len(translationTargets),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode language catalogue: %w", err)
			}
			return protocol.NewToolResultText(string(payload)), nil
		})
	if err != nil {
		return err
	}

	return r.Register(ToolListLLMProviders,
		"Returns the LLM providers configured for Blueprint translation and the models they expose.",
		emptyArgs{},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			id, local := inferProvider(backend.Endpoint)
			info := providerInfo{
				ID:           id,
				DisplayName:  providerDisplayName(id),
				Configured:   true,
				IsLocal:      local,
				CurrentModel: backend.Model,
			}
			if local {
				info.Endpoint = backend.Endpoint
			}
			payload, err := json.Marshal(map[string]any{
				"providers":               []providerInfo{info},
				"currentProvider":         id,
				"configuredProviderCount": 1,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode provider list: %w", err)
			}
			return protocol.NewToolResultText(string(payload)), nil
		})
}

// inferProvider classifies the configured endpoint. Anything served from a
// loopback or private host counts as a local provider.
func inferProvider(endpoint string) (id string, local bool) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "custom", false
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case strings.HasSuffix(host, "openai.com"):
		return "openai", false
	case strings.HasSuffix(host, "anthropic.com"):
		return "anthropic", false
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini", false
	case strings.HasSuffix(host, "deepseek.com"):
		return "deepseek", false
	}

	local = host == "localhost" || host == "127.0.0.1" || host == "::1"
	if local {
		switch u.Port() {
		case "11434":
			return "ollama", true
		case "1234":
			return "lmstudio", true
		}
	}
	return "custom", local
}

func providerDisplayName(id string) string {
	switch id {
	case "openai":
		return "OpenAI"
	case "anthropic":
		return "Anthropic"
	case "gemini":
		return "Google Gemini"
	case "deepseek":
		return "DeepSeek"
	case "ollama":
		return "Ollama (Local)"
	case "lmstudio":
		return "LM Studio (Local)"
	default:
		return "Custom (OpenAI-compatible)"
	}
}
