package chain

// Decision is what the parser extracted from one oracle response: either
// "invoke this capability with these args" or "do nothing, for this reason".
// Args values mirror JSON: string, float64, bool, nil, []any, map[string]any.
type Decision struct {
	Invoke     bool           `json:"invoke"`
	Capability string         `json:"capability,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

func noAction(reason string) Decision {
	return Decision{Reason: reason}
}

func invokeDecision(capability string, args map[string]any) Decision {
	if args == nil {
		args = map[string]any{}
	}
	return Decision{Invoke: true, Capability: capability, Args: args}
}

// ActionResult records one capability invocation, successful or not.
type ActionResult struct {
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	LatencyMs  int64          `json:"latency_ms"`
}

// RoundRecord is one completed round of the loop: the oracle's raw text, the
// decision parsed from it, and the action taken (nil when no tool ran).
type RoundRecord struct {
	Iteration    int           `json:"iteration"`
	Timestamp    string        `json:"timestamp"`
	DecisionText string        `json:"decision_text"`
	Decision     Decision      `json:"decision"`
	Action       *ActionResult `json:"action,omitempty"`
}

// Outcome is the terminal summary of one chain run. Rounds is the full audit
// trail; len(Rounds) always equals Iterations.
type Outcome struct {
	RunID                string        `json:"run_id"`
	ActionTaken          bool          `json:"action_taken"`
	LastDecision         string        `json:"last_decision"`
	Reason               string        `json:"reason,omitempty"`
	Rounds               []RoundRecord `json:"rounds"`
	Iterations           int           `json:"iterations"`
	MaxIterationsReached bool          `json:"max_iterations_reached,omitempty"`
	Timestamp            string        `json:"timestamp"`
}
