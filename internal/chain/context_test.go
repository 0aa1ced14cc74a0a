package chain

import (
	"strings"
	"testing"
)

func sampleRounds() []RoundRecord {
	return []RoundRecord{
		{
			Iteration:    1,
			Timestamp:    "2026-08-01T10:00:00Z",
			DecisionText: "USE_TOOL[send_notification]{message='one'}",
			Decision:     invokeDecision("send_notification", map[string]any{"message": "one"}),
			Action: &ActionResult{
				Capability: "send_notification",
				Args:       map[string]any{"message": "one"},
				Success:    true,
				Output:     map[string]any{"success": true},
			},
		},
		{
			Iteration:    2,
			Timestamp:    "2026-08-01T10:00:05Z",
			DecisionText: "No: done",
			Decision:     noAction("done"),
		},
	}
}

func TestFormatHistoryHeaderAndInstruction(t *testing.T) {
	out := FormatHistory(sampleRounds(), DefaultHistoryWindow)
	if !strings.HasPrefix(out, "**Previous actions and decisions:**\n\n") {
		t.Errorf("missing header: %q", out[:40])
	}
	if !strings.Contains(out, "decide if another tool should be used") {
		t.Error("missing trailing instruction")
	}
	if !strings.Contains(out, "no further action is needed at this time") {
		t.Error("missing trailing reminder")
	}
}

func TestFormatHistoryWindowKeepsLastRounds(t *testing.T) {
	var rounds []RoundRecord
	for i := 1; i <= 5; i++ {
		rounds = append(rounds, RoundRecord{
			Iteration:    i,
			Timestamp:    "2026-08-01T10:00:00Z",
			DecisionText: "No: pass",
			Decision:     noAction("pass"),
		})
	}
	out := FormatHistory(rounds, 3)
	if strings.Contains(out, "Iteration 1 ") || strings.Contains(out, "Iteration 2 ") {
		t.Error("rounds outside the window were rendered")
	}
	for _, want := range []string{"Iteration 3 ", "Iteration 4 ", "Iteration 5 "} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestFormatHistoryDeterministic(t *testing.T) {
	rounds := []RoundRecord{{
		Iteration:    1,
		Timestamp:    "2026-08-01T10:00:00Z",
		DecisionText: "directive",
		Action: &ActionResult{
			Capability: "read_file",
			Args:       map[string]any{"zeta": "z", "alpha": "a", "mid": "m"},
			Success:    true,
		},
	}}
	first := FormatHistory(rounds, 3)
	for i := 0; i < 20; i++ {
		if got := FormatHistory(rounds, 3); got != first {
			t.Fatal("FormatHistory is not deterministic")
		}
	}
	if !strings.Contains(first, "read_file(alpha='a', mid='m', zeta='z')") {
		t.Errorf("args not sorted: %q", first)
	}
}

func TestFormatHistoryTruncatesLongResults(t *testing.T) {
	long := strings.Repeat("é", 150)
	rounds := []RoundRecord{{
		Iteration: 1,
		Timestamp: "2026-08-01T10:00:00Z",
		Action: &ActionResult{
			Capability: "read_file",
			Success:    false,
			Error:      long,
		},
	}}
	out := FormatHistory(rounds, 3)
	line := ""
	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(l, "Result: ") {
			line = strings.TrimPrefix(l, "Result: ")
		}
	}
	if line == "" {
		t.Fatal("no result line rendered")
	}
	if !strings.HasSuffix(line, "...") {
		t.Errorf("long result not marked truncated: %q", line)
	}
	runes := []rune(strings.TrimSuffix(line, "..."))
	if len(runes) != maxResultChars {
		t.Errorf("kept %d runes, want %d", len(runes), maxResultChars)
	}
}

func TestFormatHistoryEmptyOutputAndFailure(t *testing.T) {
	rounds := []RoundRecord{
		{
			Iteration: 1,
			Timestamp: "t",
			Action:    &ActionResult{Capability: "a", Success: true},
		},
		{
			Iteration: 2,
			Timestamp: "t",
			Action:    &ActionResult{Capability: "b", Success: false, Error: "timeout"},
		},
	}
	out := FormatHistory(rounds, 3)
	if !strings.Contains(out, "Result: Tool execution successful") {
		t.Error("empty successful output not rendered as success marker")
	}
	if !strings.Contains(out, "Result: Tool execution failed - timeout") {
		t.Error("failure not rendered with error text")
	}
}
