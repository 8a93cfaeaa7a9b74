package protocol

// ProgressParams are the parameters of notifications/progress. Progress is a
// percentage in [0,100].
type ProgressParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Message       string  `json:"message,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
}

// TaskStartedParams are the parameters of nodetocode/taskStarted.
type TaskStartedParams struct {
	TaskID        string `json:"taskId"`
	ProgressToken string `json:"progressToken"`
}

// CancelTaskParams are the parameters of nodetocode/cancelTask.
type CancelTaskParams struct {
	ProgressToken string `json:"progressToken"`
}

// Cancellation outcomes reported by nodetocode/cancelTask.
const (
	CancelInitiated    = "cancellation_initiated"
	CancelNotFound     = "task_not_found"
	CancelCompleted    = "task_already_completed"
	CancelNotSupported = "cancellation_not_supported"
)

// CancelTaskResult is the nodetocode/cancelTask response payload.
type CancelTaskResult struct {
	Status string `json:"status"`
}

// TaskHistoryParams are the parameters of nodetocode/taskHistory.
type TaskHistoryParams struct {
	Limit int `json:"limit,omitempty"`
}
