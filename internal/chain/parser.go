package chain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The oracle's output is free text. Two grammars are recognized, in order:
//
//  1. Structured: a line containing USE_TOOL[<name>]{<json or key=value args>}.
//  2. Natural language: "Yes: Call the <name> tool with <arg> '<value>'
//     because <reason>", or "No: <reason>".
//
// Anything else degrades to a no-action decision with a diagnostic reason;
// ParseDecision is total and never panics.

const structuredMarker = "USE_TOOL["

var (
	yesRe      = regexp.MustCompile(`(?i)(?:^|\s)(?:[-*•]\s*)?yes:`)
	noRe       = regexp.MustCompile(`(?i)(?:^|\s)(?:[-*•]\s*)?no:`)
	noReasonRe = regexp.MustCompile(`(?i)no:\s*(.*)`)
	genericRe  = regexp.MustCompile(`(?i)(?:use|call) the (\w+) tool with (\w+) ['\[](.*?)['\]] because (.*)`)
)

// ParseDecision converts oracle text into a Decision, consulting the registry
// to validate capability names and to learn each capability's argument names.
func ParseDecision(text string, reg *Registry) Decision {
	text = strings.TrimSpace(text)
	if text == "" {
		return noAction("no clear decision")
	}

	if d, matched := parseStructured(text, reg); matched {
		return d
	}
	return parseNatural(text, reg)
}

// parseStructured handles the USE_TOOL[name]{args} grammar. The second
// return value reports whether the marker was present at all; once it is,
// the structured grammar owns the decision and malformed input degrades to
// no-action rather than falling through to the natural-language grammar.
func parseStructured(text string, reg *Registry) (Decision, bool) {
	idx := strings.Index(text, structuredMarker)
	if idx < 0 {
		return Decision{}, false
	}
	rest := text[idx+len(structuredMarker):]

	nameEnd := strings.Index(rest, "]")
	if nameEnd < 0 {
		return noAction("unparsed: USE_TOOL name bracket never closed"), true
	}
	name := strings.TrimSpace(rest[:nameEnd])
	if name == "" {
		return noAction("unparsed: USE_TOOL with empty capability name"), true
	}
	if !reg.Has(name) {
		return noAction(fmt.Sprintf("unknown capability %s", name)), true
	}

	rest = strings.TrimLeft(rest[nameEnd+1:], " \t")
	if !strings.HasPrefix(rest, "{") {
		return noAction(fmt.Sprintf("unparsed: USE_TOOL[%s] missing argument block", name)), true
	}
	if lineEnd := strings.IndexByte(rest, '\n'); lineEnd >= 0 {
		rest = rest[:lineEnd]
	}
	blockEnd := strings.LastIndex(rest, "}")
	if blockEnd < 0 {
		return noAction(fmt.Sprintf("unparsed: USE_TOOL[%s] argument block never closed", name)), true
	}

	args := parseArgBlock(rest[:blockEnd+1])
	return invokeDecision(name, args), true
}

// parseArgBlock parses "{...}" as strict JSON first, then as comma-separated
// key=value pairs with light type coercion.
func parseArgBlock(block string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(block), &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args
	}

	args = map[string]any{}
	inner := strings.TrimSpace(block[1 : len(block)-1])
	if inner == "" {
		return args
	}
	for _, pair := range splitPairs(inner) {
		eq := strings.Index(pair, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(pair[:eq])
		if key == "" {
			continue
		}
		args[key] = coerceValue(strings.TrimSpace(pair[eq+1:]))
	}
	return args
}

// splitPairs splits on top-level commas, leaving commas inside quotes or
// brackets alone.
func splitPairs(s string) []string {
	var pairs []string
	var quote byte
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			pairs = append(pairs, s[start:i])
			start = i + 1
		}
	}
	pairs = append(pairs, s[start:])
	return pairs
}

// coerceValue turns a key=value token into a typed value: booleans, null,
// numbers, bracketed JSON literals, or a quote-stripped string.
func coerceValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') || (raw[0] == '"' && raw[len(raw)-1] == '"') {
			return raw[1 : len(raw)-1]
		}
	}
	return raw
}

// parseNatural handles the looser "Yes: ... because ..." / "No: ..." phrasing
// the oracle falls back to when it ignores the structured format.
func parseNatural(text string, reg *Registry) Decision {
	if yesRe.MatchString(text) {
		if d, ok := matchKnownCapability(text, reg); ok {
			return d
		}
		if d, ok := matchGeneric(text, reg); ok {
			return d
		}
		return noAction("no clear decision")
	}

	if noRe.MatchString(text) {
		if m := noReasonRe.FindStringSubmatch(text); m != nil {
			return noAction(strings.TrimSpace(m[1]))
		}
		return noAction("no reason provided")
	}

	return noAction("no clear decision")
}

// matchKnownCapability tries one matcher per registered capability, in
// registration order: "... <name> tool with <word> '<value>' because <reason>".
func matchKnownCapability(text string, reg *Registry) (Decision, bool) {
	for _, desc := range reg.Describe() {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(desc.Name) + ` tool with (?:\w+ )?['\[](.*?)['\]] because (.*)`)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		d := invokeDecision(desc.Name, map[string]any{desc.PrimaryArg(): m[1]})
		d.Reason = strings.TrimSpace(m[2])
		return d, true
	}
	return Decision{}, false
}

// matchGeneric is the last-resort matcher: "(use|call) the <word> tool with
// <word> '<value>' because <reason>". The tool word is resolved against the
// registry by exact or substring match; this leniency can misroute when
// registered names share vocabulary, so resolution never invents a name that
// is not registered.
func matchGeneric(text string, reg *Registry) (Decision, bool) {
	m := genericRe.FindStringSubmatch(text)
	if m == nil {
		return Decision{}, false
	}
	toolWord := strings.ToLower(m[1])
	argWord := strings.ToLower(m[2])
	value := m[3]
	reason := strings.TrimSpace(m[4])

	desc, ok := resolveCapability(toolWord, reg)
	if !ok {
		return noAction(fmt.Sprintf("unknown capability %s", toolWord)), true
	}

	argName := desc.PrimaryArg()
	for _, a := range desc.Args {
		if strings.EqualFold(a.Name, argWord) {
			argName = a.Name
			break
		}
	}

	d := invokeDecision(desc.Name, map[string]any{argName: value})
	d.Reason = reason
	return d, true
}

// resolveCapability maps a loose tool word to a registered capability:
// exact name first, then substring containment either way (e.g. any word
// containing "notification" resolves to "send_notification").
func resolveCapability(word string, reg *Registry) (Descriptor, bool) {
	if desc, ok := reg.Get(word); ok {
		return desc, true
	}
	for _, desc := range reg.Describe() {
		lower := strings.ToLower(desc.Name)
		if strings.Contains(lower, word) || strings.Contains(word, lower) {
			return desc, true
		}
		for _, part := range strings.Split(lower, "_") {
			if part != "" && (part == word || strings.Contains(word, part)) {
				return desc, true
			}
		}
	}
	return Descriptor{}, false
}
