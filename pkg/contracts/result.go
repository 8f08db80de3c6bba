package contracts

// ActionStatus is the terminal state an executor reports.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "SUCCESS"
	ActionFailure ActionStatus = "FAILED"
	// ActionPending means the action completes later through an inbound
	// NodeCompleted or Approval event.
	ActionPending ActionStatus = "PENDING"
)

// ActionResult is what an ActionExecutor returns.
type ActionResult struct {
	Status    ActionStatus   `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// CycleStatus is the per-cycle status the orchestrator API returns.
type CycleStatus string

const (
	CycleExecuted  CycleStatus = "EXECUTED"
	CycleWaiting   CycleStatus = "WAITING"
	CycleBlocked   CycleStatus = "BLOCKED"
	CycleCompleted CycleStatus = "COMPLETED"
	CycleFailed    CycleStatus = "FAILED"
)

// OrchestrationResult summarizes one orchestration cycle.
type OrchestrationResult struct {
	Status          CycleStatus         `json:"status"`
	TraceID         string              `json:"trace_id,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	ExecutedNodeIDs []string            `json:"executed_node_ids,omitempty"`
	Decision        *NavigationDecision `json:"decision,omitempty"`
}

// Waiting builds a WAITING result.
func Waiting(traceID, reason string) OrchestrationResult {
	return OrchestrationResult{Status: CycleWaiting, TraceID: traceID, Reason: reason}
}

// Blocked builds a BLOCKED result.
func Blocked(traceID, reason string) OrchestrationResult {
	return OrchestrationResult{Status: CycleBlocked, TraceID: traceID, Reason: reason}
}

// Completed builds a COMPLETED result.
func Completed(traceID string) OrchestrationResult {
	return OrchestrationResult{Status: CycleCompleted, TraceID: traceID}
}
