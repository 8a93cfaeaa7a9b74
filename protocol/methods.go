package protocol

const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"

	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"

	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"

	MethodPromptsList = "prompts/list"
	MethodPromptsGet  = "prompts/get"

	// NodeToCode extensions
	MethodCancelTask  = "nodetocode/cancelTask"
	MethodTaskHistory = "nodetocode/taskHistory"
)

const (
	NotificationInitialized = "notifications/initialized"
	NotificationProgress    = "notifications/progress"
	NotificationCancelled   = "notifications/cancelled"

	// NotificationTaskStarted is sent once per SSE stream right after the
	// stream is established.
	NotificationTaskStarted = "nodetocode/taskStarted"
)
