package chain

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loopagent/loopagent/internal/auditlog"
	"github.com/loopagent/loopagent/internal/oracle"
)

// DefaultMaxIterations bounds the round loop when no override is given.
const DefaultMaxIterations = 5

// PromptSource supplies the first-round context when the caller passes none.
type PromptSource interface {
	BuildInitial() (string, error)
}

// Observer receives instrumentation callbacks. Implementations must be
// cheap and concurrency-safe; the metrics package provides one.
type Observer interface {
	OracleCall(latency time.Duration, failed bool)
	CapabilityCall(capability string, success bool, latency time.Duration)
	RunCompleted(outcome *Outcome)
}

// Runner drives the round loop: consult the oracle, parse its decision,
// invoke a capability or stop, fold the result into the next round's
// context. A Runner holds no per-run state and may serve concurrent runs;
// they share only the registry (read access) and the audit log (serialized
// appends).
type Runner struct {
	oracle        oracle.Oracle
	registry      *Registry
	audit         auditlog.Log
	observer      Observer
	prompts       PromptSource
	maxIterations int
	historyWindow int
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxIterations overrides the round bound (values < 1 keep the default).
func WithMaxIterations(n int) Option {
	return func(r *Runner) {
		if n >= 1 {
			r.maxIterations = n
		}
	}
}

// WithHistoryWindow overrides how many rounds feed the next context.
func WithHistoryWindow(n int) Option {
	return func(r *Runner) {
		if n >= 1 {
			r.historyWindow = n
		}
	}
}

// WithAuditLog sets the execution log.
func WithAuditLog(l auditlog.Log) Option {
	return func(r *Runner) {
		if l != nil {
			r.audit = l
		}
	}
}

// WithObserver sets the instrumentation sink.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithPromptSource sets the first-round context assembler.
func WithPromptSource(p PromptSource) Option {
	return func(r *Runner) { r.prompts = p }
}

func NewRunner(o oracle.Oracle, reg *Registry, opts ...Option) *Runner {
	r := &Runner{
		oracle:        o,
		registry:      reg,
		audit:         auditlog.Nop{},
		maxIterations: DefaultMaxIterations,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one orchestration run. It always returns a well-formed
// Outcome within maxIterations rounds: oracle failure, unparsable decisions,
// and capability failures are folded into the outcome, never raised.
func (r *Runner) Run(ctx context.Context, initialContext string) *Outcome {
	runID := uuid.New().String()
	current := initialContext
	if current == "" && r.prompts != nil {
		built, err := r.prompts.BuildInitial()
		if err != nil {
			log.Printf("chain: building initial context: %v", err)
		} else {
			current = built
		}
	}

	var rounds []RoundRecord
	for i := 1; i <= r.maxIterations; i++ {
		resp, err := r.consultOracle(ctx, runID, current)
		if err != nil {
			// The oracle is the one collaborator the loop cannot proceed
			// without: terminate with a diagnostic no-action outcome.
			decision := noAction("oracle error: " + err.Error())
			rounds = append(rounds, RoundRecord{
				Iteration: i,
				Timestamp: nowISO(),
				Decision:  decision,
			})
			return r.finish(runID, rounds, false, false, decision.Reason)
		}

		decision := ParseDecision(resp.Text, r.registry)
		record := RoundRecord{
			Iteration:    i,
			Timestamp:    resp.Timestamp,
			DecisionText: resp.Text,
			Decision:     decision,
		}

		if !decision.Invoke {
			rounds = append(rounds, record)
			return r.finish(runID, rounds, false, false, decision.Reason)
		}

		record.Action = r.invokeCapability(ctx, runID, decision)
		rounds = append(rounds, record)

		if i == r.maxIterations {
			return r.finish(runID, rounds, true, true, "")
		}
		current = FormatHistory(rounds, r.historyWindow)
	}

	// Unreachable: every path above terminates within the loop.
	return r.finish(runID, rounds, false, false, "run ended without a decision")
}

func (r *Runner) consultOracle(ctx context.Context, runID, prompt string) (*oracle.Response, error) {
	start := time.Now()
	resp, err := r.oracle.Decide(ctx, prompt)
	latency := time.Since(start)

	entry := auditlog.OracleCall{
		RunID:     runID,
		Timestamp: nowISO(),
		Context:   prompt,
		LatencyMs: latency.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.Response = resp.Text
	}
	if logErr := r.audit.RecordOracleCall(ctx, entry); logErr != nil {
		log.Printf("chain: audit: %v", logErr)
	}
	if r.observer != nil {
		r.observer.OracleCall(latency, err != nil)
	}
	return resp, err
}

func (r *Runner) invokeCapability(ctx context.Context, runID string, decision Decision) *ActionResult {
	start := time.Now()
	output, err := r.registry.Invoke(ctx, decision.Capability, decision.Args)
	latency := time.Since(start)

	action := &ActionResult{
		Capability: decision.Capability,
		Args:       decision.Args,
		LatencyMs:  latency.Milliseconds(),
	}
	if err != nil {
		action.Error = err.Error()
	} else {
		action.Success = true
		action.Output = output
	}

	entry := auditlog.CapabilityCall{
		RunID:      runID,
		Timestamp:  nowISO(),
		Capability: decision.Capability,
		Args:       marshalForAudit(decision.Args),
		Error:      action.Error,
		LatencyMs:  action.LatencyMs,
	}
	if action.Success {
		entry.Result = marshalForAudit(output)
	}
	if logErr := r.audit.RecordCapabilityCall(ctx, entry); logErr != nil {
		log.Printf("chain: audit: %v", logErr)
	}
	if r.observer != nil {
		r.observer.CapabilityCall(decision.Capability, action.Success, latency)
	}
	return action
}

func (r *Runner) finish(runID string, rounds []RoundRecord, actionTaken, maxReached bool, reason string) *Outcome {
	outcome := &Outcome{
		RunID:                runID,
		ActionTaken:          actionTaken,
		Reason:               reason,
		Rounds:               rounds,
		Iterations:           len(rounds),
		MaxIterationsReached: maxReached,
		Timestamp:            nowISO(),
	}
	if len(rounds) > 0 {
		outcome.LastDecision = rounds[len(rounds)-1].DecisionText
	}
	if r.observer != nil {
		r.observer.RunCompleted(outcome)
	}
	return outcome
}

func marshalForAudit(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
