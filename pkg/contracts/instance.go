package contracts

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle state of a process instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "RUNNING"
	InstanceSuspended InstanceStatus = "SUSPENDED"
	InstanceCompleted InstanceStatus = "COMPLETED"
	InstanceFailed    InstanceStatus = "FAILED"
	InstanceCancelled InstanceStatus = "CANCELLED"
)

// ExecutionStatus is the state of a single node execution record.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionRetrying  ExecutionStatus = "RETRYING"
	ExecutionSkipped   ExecutionStatus = "SKIPPED"
)

// NodeExecution is one attempt at a node's action. Records are append-only;
// COMPLETED and FAILED are terminal for a record.
type NodeExecution struct {
	NodeID      string          `json:"node_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempt     int             `json:"attempt"`
}

// ProcessInstance is the mutable runtime state of one process execution.
// It is only mutated by the cycle that holds the instance lock; everything
// published outside the lock goes through Snapshot.
type ProcessInstance struct {
	ID             string           `json:"id"`
	GraphID        string           `json:"graph_id"`
	GraphVersion   string           `json:"graph_version"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
	Status         InstanceStatus   `json:"status"`
	ActiveNodeIDs  []string         `json:"active_node_ids,omitempty"`
	PendingEdgeIDs []string         `json:"pending_edge_ids,omitempty"`
	NodeExecutions []NodeExecution  `json:"node_executions,omitempty"`
	Context        ExecutionContext `json:"context"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// NewProcessInstance creates a RUNNING instance for the given graph.
func NewProcessInstance(graphID, graphVersion, correlationID string, initial ExecutionContext) *ProcessInstance {
	return &ProcessInstance{
		ID:            uuid.New().String(),
		GraphID:       graphID,
		GraphVersion:  graphVersion,
		CorrelationID: correlationID,
		Status:        InstanceRunning,
		Context:       initial.Clone(),
		StartedAt:     time.Now(),
	}
}

// IsTerminal reports whether the instance reached a final status.
func (p *ProcessInstance) IsTerminal() bool {
	switch p.Status {
	case InstanceCompleted, InstanceFailed, InstanceCancelled:
		return true
	}
	return false
}

// IsActiveNode reports whether the node is currently active.
func (p *ProcessInstance) IsActiveNode(nodeID string) bool {
	for _, id := range p.ActiveNodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// HasExecutedNode reports whether the node has a COMPLETED execution record.
func (p *ProcessInstance) HasExecutedNode(nodeID string) bool {
	for _, ex := range p.NodeExecutions {
		if ex.NodeID == nodeID && ex.Status == ExecutionCompleted {
			return true
		}
	}
	return false
}

// HasAnyExecution reports whether the node appears in the history at all.
func (p *ProcessInstance) HasAnyExecution(nodeID string) bool {
	for _, ex := range p.NodeExecutions {
		if ex.NodeID == nodeID {
			return true
		}
	}
	return false
}

// CompletedNodeIDs returns the set of nodes with a COMPLETED record.
func (p *ProcessInstance) CompletedNodeIDs() map[string]bool {
	out := map[string]bool{}
	for _, ex := range p.NodeExecutions {
		if ex.Status == ExecutionCompleted {
			out[ex.NodeID] = true
		}
	}
	return out
}

// FailedAttempts counts FAILED records for the node.
func (p *ProcessInstance) FailedAttempts(nodeID string) int {
	n := 0
	for _, ex := range p.NodeExecutions {
		if ex.NodeID == nodeID && ex.Status == ExecutionFailed {
			n++
		}
	}
	return n
}

// RetryAttempts counts RETRYING records for the node. The retry budget is
// measured against this count, not against FAILED records.
func (p *ProcessInstance) RetryAttempts(nodeID string) int {
	n := 0
	for _, ex := range p.NodeExecutions {
		if ex.NodeID == nodeID && ex.Status == ExecutionRetrying {
			n++
		}
	}
	return n
}

// LastFailedNode reports the most recent FAILED record, if any.
func (p *ProcessInstance) LastFailedNode() (NodeExecution, bool) {
	for i := len(p.NodeExecutions) - 1; i >= 0; i-- {
		if p.NodeExecutions[i].Status == ExecutionFailed {
			return p.NodeExecutions[i], true
		}
	}
	return NodeExecution{}, false
}

// StartNodeExecution appends a RUNNING record and marks the node active.
// A node may have at most one RUNNING record at a time, and terminal
// instances accept no new records.
func (p *ProcessInstance) StartNodeExecution(nodeID string, now time.Time) error {
	if p.IsTerminal() {
		return NewError(KindInvalidState, "instance "+p.ID+" is terminal")
	}
	for _, ex := range p.NodeExecutions {
		if ex.NodeID == nodeID && ex.Status == ExecutionRunning {
			return NewError(KindInvalidState, "node "+nodeID+" already running")
		}
	}
	p.NodeExecutions = append(p.NodeExecutions, NodeExecution{
		NodeID:    nodeID,
		Status:    ExecutionRunning,
		StartedAt: now,
		Attempt:   p.RetryAttempts(nodeID) + p.FailedAttempts(nodeID) + 1,
	})
	if !p.IsActiveNode(nodeID) {
		p.ActiveNodeIDs = append(p.ActiveNodeIDs, nodeID)
	}
	return nil
}

// CompleteNodeExecution finishes the RUNNING record for the node and folds
// the output into the entity compartment.
func (p *ProcessInstance) CompleteNodeExecution(nodeID string, output map[string]any, now time.Time) error {
	rec := p.runningRecord(nodeID)
	if rec == nil {
		return NewError(KindInvalidState, "node "+nodeID+" has no running execution")
	}
	rec.Status = ExecutionCompleted
	rec.CompletedAt = &now
	rec.Result = output
	p.removeActive(nodeID)
	p.Context.SetNodeOutput(nodeID, output)
	return nil
}

// RetryNodeExecution settles the RUNNING record as RETRYING so a later
// cycle may dispatch a fresh attempt. The node execution is not failed.
func (p *ProcessInstance) RetryNodeExecution(nodeID, errMsg string, now time.Time) error {
	rec := p.runningRecord(nodeID)
	if rec == nil {
		return NewError(KindInvalidState, "node "+nodeID+" has no running execution")
	}
	rec.Status = ExecutionRetrying
	rec.CompletedAt = &now
	rec.Error = errMsg
	p.removeActive(nodeID)
	return nil
}

// FailNodeExecution finishes the RUNNING record for the node with an error.
func (p *ProcessInstance) FailNodeExecution(nodeID, errMsg string, now time.Time) error {
	rec := p.runningRecord(nodeID)
	if rec == nil {
		return NewError(KindInvalidState, "node "+nodeID+" has no running execution")
	}
	rec.Status = ExecutionFailed
	rec.CompletedAt = &now
	rec.Error = errMsg
	p.removeActive(nodeID)
	return nil
}

// MarkCompleted transitions the instance to COMPLETED.
func (p *ProcessInstance) MarkCompleted(now time.Time) error {
	return p.finish(InstanceCompleted, now)
}

// MarkFailed transitions the instance to FAILED.
func (p *ProcessInstance) MarkFailed(now time.Time) error {
	return p.finish(InstanceFailed, now)
}

// MarkCancelled transitions the instance to CANCELLED.
func (p *ProcessInstance) MarkCancelled(now time.Time) error {
	return p.finish(InstanceCancelled, now)
}

// Suspend pauses a RUNNING instance.
func (p *ProcessInstance) Suspend() error {
	if p.Status != InstanceRunning {
		return NewError(KindInvalidState, "suspend requires RUNNING, instance is "+string(p.Status))
	}
	p.Status = InstanceSuspended
	return nil
}

// Resume restores a SUSPENDED instance to RUNNING.
func (p *ProcessInstance) Resume() error {
	if p.Status != InstanceSuspended {
		return NewError(KindInvalidState, "resume requires SUSPENDED, instance is "+string(p.Status))
	}
	p.Status = InstanceRunning
	return nil
}

// AddPendingEdge remembers an edge whose join is not satisfied yet.
func (p *ProcessInstance) AddPendingEdge(edgeID string) {
	for _, id := range p.PendingEdgeIDs {
		if id == edgeID {
			return
		}
	}
	p.PendingEdgeIDs = append(p.PendingEdgeIDs, edgeID)
}

// RemovePendingEdge drops an edge from the pending set.
func (p *ProcessInstance) RemovePendingEdge(edgeID string) {
	for i, id := range p.PendingEdgeIDs {
		if id == edgeID {
			p.PendingEdgeIDs = append(p.PendingEdgeIDs[:i], p.PendingEdgeIDs[i+1:]...)
			return
		}
	}
}

// Snapshot deep-copies the instance for publication outside the lock.
func (p *ProcessInstance) Snapshot() *ProcessInstance {
	out := *p
	out.ActiveNodeIDs = append([]string(nil), p.ActiveNodeIDs...)
	out.PendingEdgeIDs = append([]string(nil), p.PendingEdgeIDs...)
	out.NodeExecutions = make([]NodeExecution, len(p.NodeExecutions))
	for i, ex := range p.NodeExecutions {
		cp := ex
		if ex.CompletedAt != nil {
			t := *ex.CompletedAt
			cp.CompletedAt = &t
		}
		cp.Result = cloneMap(ex.Result)
		out.NodeExecutions[i] = cp
	}
	out.Context = p.Context.Clone()
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (p *ProcessInstance) finish(status InstanceStatus, now time.Time) error {
	if p.IsTerminal() {
		return NewError(KindInvalidState, "instance "+p.ID+" already "+string(p.Status))
	}
	p.Status = status
	p.CompletedAt = &now
	return nil
}

func (p *ProcessInstance) runningRecord(nodeID string) *NodeExecution {
	for i := len(p.NodeExecutions) - 1; i >= 0; i-- {
		if p.NodeExecutions[i].NodeID == nodeID && p.NodeExecutions[i].Status == ExecutionRunning {
			return &p.NodeExecutions[i]
		}
	}
	return nil
}

func (p *ProcessInstance) removeActive(nodeID string) {
	for i, id := range p.ActiveNodeIDs {
		if id == nodeID {
			p.ActiveNodeIDs = append(p.ActiveNodeIDs[:i], p.ActiveNodeIDs[i+1:]...)
			return
		}
	}
}
