package contracts

// IdempotencyResult is the outcome of the duplicate-execution check.
type IdempotencyResult struct {
	Passed              bool   `json:"passed"`
	Skipped             bool   `json:"skipped"`
	Key                 string `json:"key,omitempty"`
	PreviousExecutionID string `json:"previous_execution_id,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// AuthorizationResult is the outcome of the principal/permission check.
type AuthorizationResult struct {
	Passed    bool     `json:"passed"`
	Skipped   bool     `json:"skipped"`
	Principal string   `json:"principal,omitempty"`
	Missing   []string `json:"missing,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// PolicyGateResult is the outcome of the runtime policy gate.
type PolicyGateResult struct {
	Passed  bool     `json:"passed"`
	Skipped bool     `json:"skipped"`
	Checked []string `json:"checked,omitempty"`
	Failed  []string `json:"failed,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// GovernanceResult aggregates the three pre-execution checks. Approved is
// the conjunction; Reason carries the first failing check's reason.
type GovernanceResult struct {
	Approved      bool                `json:"approved"`
	Idempotency   IdempotencyResult   `json:"idempotency"`
	Authorization AuthorizationResult `json:"authorization"`
	PolicyGate    PolicyGateResult    `json:"policy_gate"`
	Reason        string              `json:"reason,omitempty"`
}
