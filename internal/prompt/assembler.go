// Package prompt builds the agent's first-round context from a template
// file with {placeholder} substitution.
package prompt

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/loopagent/loopagent/internal/state"
)

// fallbackPrompt is used when the template file cannot be read; the run
// still proceeds with a minimal context.
const fallbackPrompt = "You are an agent that decides whether to use tools based on context."

var placeholderRe = regexp.MustCompile(`\{([^{}]+)}`)

// HandlerFunc produces the replacement text for one placeholder.
type HandlerFunc func() string

// Assembler loads a prompt template and substitutes registered
// placeholders. The zero handlers render the current timestamp, the recent
// chat transcript, and the not-yet-applied injected instructions.
type Assembler struct {
	path     string
	handlers map[string]HandlerFunc
	order    []string
}

// New creates an assembler for the template at path with the standard
// placeholders wired to the given stores. Either store may be nil, which
// leaves its placeholder rendering a default line.
func New(path string, messages *state.MessageStore, injections *state.InjectionStore) *Assembler {
	a := &Assembler{
		path:     path,
		handlers: make(map[string]HandlerFunc),
	}
	a.Register("timestamp", func() string {
		return time.Now().UTC().Format(time.RFC3339)
	})
	a.Register("chat_history", func() string {
		return renderChatHistory(messages)
	})
	a.Register("pending_instructions", func() string {
		return renderPendingInstructions(injections)
	})
	return a
}

// Register adds or replaces a placeholder handler.
func (a *Assembler) Register(name string, fn HandlerFunc) {
	if _, exists := a.handlers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.handlers[name] = fn
}

// Placeholders returns all registered placeholder names in registration
// order.
func (a *Assembler) Placeholders() []string {
	return append([]string(nil), a.order...)
}

// BuildInitial reads the template file and substitutes all placeholders,
// returning the first-round context as one opaque string.
func (a *Assembler) BuildInitial() (string, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		log.Printf("prompt: reading template %s: %v", a.path, err)
		return fallbackPrompt, nil
	}
	return a.Process(string(data)), nil
}

// Process substitutes every known placeholder in template. Unknown
// placeholders are left in place and logged.
func (a *Assembler) Process(template string) string {
	out := template
	for _, name := range findPlaceholders(template) {
		handler, ok := a.handlers[name]
		if !ok {
			log.Printf("prompt: unknown placeholder %q in template", name)
			continue
		}
		out = strings.ReplaceAll(out, "{"+name+"}", handler())
	}
	return out
}

func findPlaceholders(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func renderChatHistory(messages *state.MessageStore) string {
	if messages == nil {
		return "No chat history available yet."
	}
	recent, err := messages.Recent(context.Background(), 20)
	if err != nil {
		log.Printf("prompt: loading chat history: %v", err)
		return "No chat history available yet."
	}
	if len(recent) == 0 {
		return "No chat history available yet."
	}
	var sb strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&sb, "[%s] %s: %s\n\n", m.Timestamp, m.Role, m.Text)
	}
	return sb.String()
}

func renderPendingInstructions(injections *state.InjectionStore) string {
	if injections == nil {
		return "No pending instructions."
	}
	pending, err := injections.Pending(context.Background())
	if err != nil {
		log.Printf("prompt: loading pending instructions: %v", err)
		return "No pending instructions."
	}
	if len(pending) == 0 {
		return "No pending instructions."
	}
	var sb strings.Builder
	for _, inj := range pending {
		fmt.Fprintf(&sb, "[%s] %s\n", inj.Timestamp, inj.Instruction)
	}
	return sb.String()
}
