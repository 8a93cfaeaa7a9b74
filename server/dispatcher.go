package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
)

// dispatch routes one non-streaming JSON-RPC message. Notifications return
// nil; requests always return a response, error responses included. Async
// tools/call never reaches this path.
func (s *Server) dispatch(ctx context.Context, sessionID string, msg *protocol.Message) *protocol.Response {
	switch msg.Classify() {
	case protocol.MessageRequest:
		return s.dispatchRequest(ctx, sessionID, msg)
	case protocol.MessageNotification:
		s.dispatchNotification(msg)
		return nil
	case protocol.MessageResponse:
		// Server-side endpoint; client responses have nowhere to go.
		s.logger.Debug("ignoring client response message", "id", protocol.IDString(msg.ID))
		return nil
	default:
		return protocol.NewErrorResponse(msg.ID, protocol.InvalidRequest, "Invalid Request")
	}
}

func (s *Server) dispatchRequest(ctx context.Context, sessionID string, msg *protocol.Message) *protocol.Response {
	s.logger.Debug("dispatching request", "method", msg.Method, "id", protocol.IDString(msg.ID))

	switch msg.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(sessionID, msg)

	case protocol.MethodPing:
		return protocol.NewResponse(msg.ID, protocol.EmptyResult{})

	case protocol.MethodToolsList:
		return protocol.NewResponse(msg.ID, &protocol.ListToolsResult{Tools: s.registry.List()})

	case protocol.MethodToolsCall:
		return s.handleSyncToolCall(ctx, msg)

	case protocol.MethodResourcesList:
		return protocol.NewResponse(msg.ID, s.listResources())

	case protocol.MethodResourcesRead:
		var params protocol.ReadResourceParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, "invalid resources/read params")
		}
		result, err := s.readResource(params.URI)
		if err != nil {
			return protocol.NewErrorResponse(msg.ID, protocol.ResourceNotFound, err.Error())
		}
		return protocol.NewResponse(msg.ID, result)

	case protocol.MethodPromptsList:
		return protocol.NewResponse(msg.ID, s.listPrompts())

	case protocol.MethodPromptsGet:
		var params protocol.GetPromptParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, "invalid prompts/get params")
		}
		result, err := s.getPrompt(params.Name, params.Arguments)
		if err != nil {
			return protocol.NewErrorResponse(msg.ID, protocol.PromptNotFound, err.Error())
		}
		return protocol.NewResponse(msg.ID, result)

	case protocol.MethodCancelTask:
		return s.handleCancelTask(msg)

	case protocol.MethodTaskHistory:
		return s.handleTaskHistory(msg)

	default:
		return protocol.NewErrorResponse(msg.ID, protocol.MethodNotFound,
			fmt.Sprintf("method not found: %s", msg.Method))
	}
}

func (s *Server) dispatchNotification(msg *protocol.Message) {
	switch msg.Method {
	case protocol.NotificationInitialized:
		s.logger.Info("client initialized")

	case protocol.NotificationCancelled:
		var params struct {
			RequestID     json.RawMessage `json:"requestId,omitempty"`
			ProgressToken string          `json:"progressToken,omitempty"`
			Reason        string          `json:"reason,omitempty"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("invalid notifications/cancelled params", "error", err)
			return
		}
		if params.ProgressToken != "" {
			if s.tasks.CancelTaskByProgressToken(params.ProgressToken) {
				s.logger.Info("task cancellation via notification",
					"progress_token", params.ProgressToken, "reason", params.Reason)
			}
		}

	default:
		// Unknown notifications are dropped per JSON-RPC 2.0.
		s.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

func (s *Server) handleInitialize(sessionID string, msg *protocol.Message) *protocol.Response {
	var params protocol.InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, "invalid initialize params")
	}

	version := params.ProtocolVersion
	if !protocol.IsVersionSupported(version) {
		version = protocol.MCPVersion
	}

	s.touchSession(sessionID, version)
	s.logger.Info("session initialized",
		"session_id", sessionID, "client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version, "protocol_version", version)

	return protocol.NewResponse(msg.ID, &protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities: protocol.ServerCapabilities{
			Tools:     &protocol.ToolsCapability{},
			Resources: &protocol.ResourcesCapability{},
			Prompts:   &protocol.PromptsCapability{},
		},
		ServerInfo: protocol.ServerInfo{
			Name:    "NodeToCode MCP Server",
			Version: Version,
		},
		Instructions: "Exposes Unreal Engine Blueprint graphs as MCP tools and resources. " +
			"The translate-focused-blueprint tool streams progress over SSE.",
	})
}

// handleSyncToolCall executes a synchronous tool. Calls targeting async
// tools that ended up here (batch requests cannot stream) are rejected.
func (s *Server) handleSyncToolCall(ctx context.Context, msg *protocol.Message) *protocol.Response {
	var params protocol.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, "invalid tools/call params")
	}

	async, known := s.registry.IsAsync(params.Name)
	if !known {
		return protocol.NewErrorResponse(msg.ID, protocol.ToolNotFound,
			fmt.Sprintf("unknown tool: %s", params.Name))
	}
	if async {
		return protocol.NewErrorResponse(msg.ID, protocol.InvalidRequest,
			fmt.Sprintf("tool %s streams its result and cannot be called inside a batch", params.Name))
	}

	// Sync calls carrying a progress token get begin/end notifications on
	// the broadcast channel even though they finish in one round trip.
	if token := params.ProgressToken(); token != "" {
		s.tracker.BeginProgress(token, protocol.IDString(msg.ID))
		defer s.tracker.EndProgress(token)
	}

	result, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.InternalError, err.Error())
	}
	return protocol.NewResponse(msg.ID, result)
}

func (s *Server) handleCancelTask(msg *protocol.Message) *protocol.Response {
	var params protocol.CancelTaskParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.ProgressToken == "" {
		return protocol.NewErrorResponse(msg.ID, protocol.InvalidParams,
			"cancelTask requires a progressToken")
	}

	status := s.cancelTaskStatus(params.ProgressToken)
	s.logger.Info("cancelTask handled", "progress_token", params.ProgressToken, "status", status)
	return protocol.NewResponse(msg.ID, &protocol.CancelTaskResult{Status: status})
}

// cancelTaskStatus maps the task's state to the cancellation outcome the
// client sees.
func (s *Server) cancelTaskStatus(progressToken string) string {
	tctx, ok := s.tasks.GetTaskContextByProgressToken(progressToken)
	if !ok {
		return protocol.CancelNotFound
	}
	if tctx.Finished() {
		return protocol.CancelCompleted
	}
	if tctx.Task != nil && !tctx.Task.IsCancellable() {
		return protocol.CancelNotSupported
	}
	s.tasks.CancelTaskByProgressToken(progressToken)
	return protocol.CancelInitiated
}

func (s *Server) handleTaskHistory(msg *protocol.Message) *protocol.Response {
	if s.history == nil {
		return protocol.NewErrorResponse(msg.ID, protocol.MethodNotFound, "task history is disabled")
	}

	var params protocol.TaskHistoryParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return protocol.NewErrorResponse(msg.ID, protocol.InvalidParams, "invalid taskHistory params")
		}
	}

	records, err := s.history.ListRecent(params.Limit)
	if err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.InternalError, err.Error())
	}
	return protocol.NewResponse(msg.ID, map[string]any{"tasks": records})
}
