package chain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultHistoryWindow is how many recent rounds are replayed to the oracle.
const DefaultHistoryWindow = 3

// maxResultChars caps the rendered result line; longer results are cut and
// marked with an ellipsis.
const maxResultChars = 100

// FormatHistory renders the last window rounds as the context for the next
// oracle call. Output is deterministic for a given input: argument keys are
// sorted and result maps are rendered as canonical JSON.
func FormatHistory(rounds []RoundRecord, window int) string {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if len(rounds) > window {
		rounds = rounds[len(rounds)-window:]
	}

	var sb strings.Builder
	sb.WriteString("**Previous actions and decisions:**\n\n")

	for _, round := range rounds {
		fmt.Fprintf(&sb, "Iteration %d [%s] Decision: %s\n", round.Iteration, round.Timestamp, round.DecisionText)
		if round.Action != nil {
			fmt.Fprintf(&sb, "Iteration %d Tool executed: %s(%s)\n", round.Iteration, round.Action.Capability, formatArgs(round.Action.Args))
			sb.WriteString("Result: ")
			sb.WriteString(formatResult(round.Action))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nBased on the previous actions and their results, decide if another tool should be used.\n")
	sb.WriteString("Remember that you can either choose to use a tool again or decide that no further action is needed at this time.")
	return sb.String()
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s='%v'", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

func formatResult(action *ActionResult) string {
	if !action.Success {
		return truncateResult(fmt.Sprintf("Tool execution failed - %s", action.Error))
	}
	if len(action.Output) == 0 {
		return "Tool execution successful"
	}
	rendered, err := json.Marshal(action.Output)
	if err != nil {
		return "Tool execution successful"
	}
	return truncateResult(string(rendered))
}

// truncateResult cuts the rendered result to maxResultChars runes plus an
// ellipsis.
func truncateResult(s string) string {
	runes := []rune(s)
	if len(runes) <= maxResultChars {
		return s
	}
	return string(runes[:maxResultChars]) + "..."
}
