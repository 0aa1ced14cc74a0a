package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loopagent/loopagent/internal/auditlog"
	"github.com/loopagent/loopagent/internal/oracle"
)

type fakeOracle struct {
	mu        sync.Mutex
	responses []string
	callCount int
	err       error
	prompts   []string
}

func (f *fakeOracle) Decide(_ context.Context, prompt string) (*oracle.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	if f.callCount >= len(f.responses) {
		return nil, fmt.Errorf("no more responses")
	}
	resp := f.responses[f.callCount]
	f.callCount++
	return &oracle.Response{Text: resp, Timestamp: "2026-08-01T10:00:00Z"}, nil
}

type memoryAudit struct {
	mu          sync.Mutex
	oracleCalls []auditlog.OracleCall
	capCalls    []auditlog.CapabilityCall
}

func (m *memoryAudit) RecordOracleCall(_ context.Context, call auditlog.OracleCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oracleCalls = append(m.oracleCalls, call)
	return nil
}

func (m *memoryAudit) RecordCapabilityCall(_ context.Context, call auditlog.CapabilityCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capCalls = append(m.capCalls, call)
	return nil
}

func fixedPrompt(s string) PromptSource { return fixedPromptSource(s) }

type fixedPromptSource string

func (f fixedPromptSource) BuildInitial() (string, error) { return string(f), nil }

func checkOutcomeShape(t *testing.T, out *Outcome) {
	t.Helper()
	if out.Iterations != len(out.Rounds) {
		t.Errorf("Iterations = %d but %d rounds recorded", out.Iterations, len(out.Rounds))
	}
	for i, round := range out.Rounds {
		if round.Iteration != i+1 {
			t.Errorf("round %d has Iteration %d", i, round.Iteration)
		}
	}
	if !out.ActionTaken && len(out.Rounds) > 0 {
		last := out.Rounds[len(out.Rounds)-1]
		if last.Decision.Invoke {
			t.Error("ActionTaken is false but final round invoked a capability")
		}
	}
	if out.RunID == "" {
		t.Error("RunID is empty")
	}
	if out.Timestamp == "" {
		t.Error("Timestamp is empty")
	}
}

func TestRunNoActionFirstRound(t *testing.T) {
	llm := &fakeOracle{responses: []string{"No: nothing needs attention"}}
	runner := NewRunner(llm, testRegistry(t))

	out := runner.Run(context.Background(), "check the system")
	checkOutcomeShape(t, out)

	if out.ActionTaken {
		t.Error("ActionTaken = true")
	}
	if out.Iterations != 1 {
		t.Errorf("Iterations = %d", out.Iterations)
	}
	if out.Reason != "nothing needs attention" {
		t.Errorf("Reason = %q", out.Reason)
	}
	if out.MaxIterationsReached {
		t.Error("MaxIterationsReached = true")
	}
}

func TestRunSingleActionThenStop(t *testing.T) {
	llm := &fakeOracle{responses: []string{
		"USE_TOOL[send_notification]{message='hello'}",
		"No: notification sent, done",
	}}
	audit := &memoryAudit{}
	runner := NewRunner(llm, testRegistry(t), WithAuditLog(audit))

	out := runner.Run(context.Background(), "tell the user hello")
	checkOutcomeShape(t, out)

	if out.Iterations != 2 {
		t.Fatalf("Iterations = %d", out.Iterations)
	}
	first := out.Rounds[0]
	if first.Action == nil || !first.Action.Success {
		t.Fatalf("first round action = %+v", first.Action)
	}
	if first.Action.Capability != "send_notification" {
		t.Errorf("Capability = %q", first.Action.Capability)
	}
	if out.ActionTaken {
		t.Error("ActionTaken = true after explicit stop")
	}

	if len(audit.oracleCalls) != 2 {
		t.Errorf("oracle audit entries = %d", len(audit.oracleCalls))
	}
	if len(audit.capCalls) != 1 {
		t.Errorf("capability audit entries = %d", len(audit.capCalls))
	}
	if audit.capCalls[0].RunID != out.RunID {
		t.Error("audit entry not tagged with run ID")
	}
}

func TestRunSecondPromptCarriesHistory(t *testing.T) {
	llm := &fakeOracle{responses: []string{
		"USE_TOOL[send_notification]{message='hello'}",
		"No: done",
	}}
	runner := NewRunner(llm, testRegistry(t))
	runner.Run(context.Background(), "initial context")

	if len(llm.prompts) != 2 {
		t.Fatalf("prompts = %d", len(llm.prompts))
	}
	if llm.prompts[0] != "initial context" {
		t.Errorf("first prompt = %q", llm.prompts[0])
	}
	second := llm.prompts[1]
	if !strings.HasPrefix(second, "**Previous actions and decisions:**") {
		t.Errorf("second prompt missing history header: %q", second)
	}
	if !strings.Contains(second, "send_notification(message='hello')") {
		t.Errorf("second prompt missing executed action: %q", second)
	}
}

func TestRunExhaustsMaxIterations(t *testing.T) {
	responses := make([]string, DefaultMaxIterations)
	for i := range responses {
		responses[i] = "USE_TOOL[send_notification]{message='again'}"
	}
	llm := &fakeOracle{responses: responses}
	runner := NewRunner(llm, testRegistry(t))

	out := runner.Run(context.Background(), "loop forever")
	checkOutcomeShape(t, out)

	if out.Iterations != DefaultMaxIterations {
		t.Errorf("Iterations = %d", out.Iterations)
	}
	if !out.MaxIterationsReached {
		t.Error("MaxIterationsReached = false")
	}
	if !out.ActionTaken {
		t.Error("ActionTaken = false after repeated invocations")
	}
	if llm.callCount != DefaultMaxIterations {
		t.Errorf("oracle consulted %d times", llm.callCount)
	}
}

func TestRunOracleErrorTerminates(t *testing.T) {
	llm := &fakeOracle{err: fmt.Errorf("connection refused")}
	runner := NewRunner(llm, testRegistry(t))

	out := runner.Run(context.Background(), "anything")
	checkOutcomeShape(t, out)

	if out.ActionTaken {
		t.Error("ActionTaken = true")
	}
	if out.Iterations != 1 {
		t.Errorf("Iterations = %d", out.Iterations)
	}
	if !strings.Contains(out.Reason, "connection refused") {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestRunCapabilityFailureContinues(t *testing.T) {
	reg := testRegistry(t)
	_ = reg.Register(Descriptor{
		Name: "flaky",
		Args: []ArgSpec{{Name: "value", Required: true}},
	}, func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("backend unavailable")
	})

	llm := &fakeOracle{responses: []string{
		"USE_TOOL[flaky]{value='x'}",
		"No: giving up on the flaky backend",
	}}
	runner := NewRunner(llm, reg)

	out := runner.Run(context.Background(), "try it")
	checkOutcomeShape(t, out)

	if out.Iterations != 2 {
		t.Fatalf("Iterations = %d; a failed capability must not end the run", out.Iterations)
	}
	action := out.Rounds[0].Action
	if action == nil || action.Success {
		t.Fatalf("action = %+v", action)
	}
	if !strings.Contains(action.Error, "backend unavailable") {
		t.Errorf("action error = %q", action.Error)
	}
	if !strings.Contains(llm.prompts[1], "Tool execution failed - ") {
		t.Errorf("failure not folded into next context: %q", llm.prompts[1])
	}
}

func TestRunUnknownCapabilityIsNoAction(t *testing.T) {
	llm := &fakeOracle{responses: []string{"USE_TOOL[do_magic]{spell='x'}"}}
	runner := NewRunner(llm, testRegistry(t))

	out := runner.Run(context.Background(), "cast")
	checkOutcomeShape(t, out)

	if out.ActionTaken {
		t.Error("ActionTaken = true")
	}
	if !strings.Contains(out.Reason, "do_magic") {
		t.Errorf("Reason = %q", out.Reason)
	}
}

func TestRunUsesPromptSourceWhenContextEmpty(t *testing.T) {
	llm := &fakeOracle{responses: []string{"No: ok"}}
	runner := NewRunner(llm, testRegistry(t), WithPromptSource(fixedPrompt("assembled system prompt")))

	runner.Run(context.Background(), "")
	if len(llm.prompts) != 1 || llm.prompts[0] != "assembled system prompt" {
		t.Errorf("prompts = %v", llm.prompts)
	}
}

func TestRunOptionBounds(t *testing.T) {
	llm := &fakeOracle{responses: []string{
		"USE_TOOL[send_notification]{message='1'}",
		"USE_TOOL[send_notification]{message='2'}",
	}}
	runner := NewRunner(llm, testRegistry(t), WithMaxIterations(2))

	out := runner.Run(context.Background(), "go")
	if out.Iterations != 2 || !out.MaxIterationsReached {
		t.Errorf("outcome = %+v", out)
	}
}

type countingObserver struct {
	mu         sync.Mutex
	oracle     int
	capability int
	runs       int
}

func (c *countingObserver) OracleCall(time.Duration, bool) {
	c.mu.Lock()
	c.oracle++
	c.mu.Unlock()
}

func (c *countingObserver) CapabilityCall(string, bool, time.Duration) {
	c.mu.Lock()
	c.capability++
	c.mu.Unlock()
}

func (c *countingObserver) RunCompleted(*Outcome) {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
}

func TestRunObserverCallbacks(t *testing.T) {
	llm := &fakeOracle{responses: []string{
		"USE_TOOL[send_notification]{message='hi'}",
		"No: done",
	}}
	obs := &countingObserver{}
	runner := NewRunner(llm, testRegistry(t), WithObserver(obs))

	runner.Run(context.Background(), "go")
	if obs.oracle != 2 || obs.capability != 1 || obs.runs != 1 {
		t.Errorf("observer counts = %+v", obs)
	}
}

func TestRunConcurrentRunsShareRunner(t *testing.T) {
	const n = 8
	responses := make([]string, n)
	for i := range responses {
		responses[i] = "No: idle"
	}
	runner := NewRunner(&fakeOracle{responses: responses}, testRegistry(t), WithAuditLog(&memoryAudit{}))

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, n)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = runner.Run(context.Background(), "probe")
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, out := range outcomes {
		checkOutcomeShape(t, out)
		if seen[out.RunID] {
			t.Errorf("duplicate run ID %s", out.RunID)
		}
		seen[out.RunID] = true
	}
}
