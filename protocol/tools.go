package protocol

import "encoding/json"

// Tool describes one invocable tool in the tools/list result.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the tools/list response payload.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolMeta carries request metadata; progressToken correlates the
// client's progress UI to the call.
type CallToolMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Meta      *CallToolMeta   `json:"_meta,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ProgressToken returns the client-supplied token, if any.
func (p *CallToolParams) ProgressToken() string {
	if p.Meta == nil {
		return ""
	}
	return p.Meta.ProgressToken
}

type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// TextContent is a text block in a tool result.
type TextContent struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// CallToolResult is the tools/call response payload. IsError flags a tool
// level failure; protocol level failures use a JSON-RPC error instead.
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// NewToolResultText builds a success result with one text block.
func NewToolResultText(text string) *CallToolResult {
	return &CallToolResult{
		Content: []TextContent{{Type: ContentTypeText, Text: text}},
	}
}

// NewToolResultError builds an error-flagged result with one text block.
func NewToolResultError(text string) *CallToolResult {
	return &CallToolResult{
		Content: []TextContent{{Type: ContentTypeText, Text: text}},
		IsError: true,
	}
}

// FirstText returns the first text block, or "" when the result is empty.
func (r *CallToolResult) FirstText() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}
