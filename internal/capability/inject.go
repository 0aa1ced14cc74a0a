package capability

import (
	"context"
	"fmt"

	"github.com/loopagent/loopagent/internal/chain"
	"github.com/loopagent/loopagent/internal/state"
)

// Injector queues an instruction for the chat side to apply on its next
// reply.
type Injector struct {
	injections *state.InjectionStore
}

func NewInjector(injections *state.InjectionStore) *Injector {
	return &Injector{injections: injections}
}

// Descriptor returns the inject_instruction capability descriptor.
func (i *Injector) Descriptor() chain.Descriptor {
	return chain.Descriptor{
		Name:        "inject_instruction",
		Description: "Inject an instruction into the conversation for the chat assistant to consider",
		Args: []chain.ArgSpec{
			{Name: "instruction", Type: "string", Description: "The instruction to inject", Required: true},
		},
	}
}

// Invoke persists the instruction as a pending injection.
func (i *Injector) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	instruction, ok := args["instruction"].(string)
	if !ok || instruction == "" {
		return nil, fmt.Errorf("instruction must be a non-empty string")
	}

	inj, err := i.injections.Save(ctx, "Agent", instruction)
	if err != nil {
		return nil, fmt.Errorf("save injection: %w", err)
	}

	return map[string]any{
		"success":     true,
		"message":     "Instruction injected successfully",
		"instruction": instruction,
		"timestamp":   inj.Timestamp,
	}, nil
}

// RegisterInjector registers the inject_instruction capability.
func RegisterInjector(reg *chain.Registry, i *Injector) error {
	return reg.Register(i.Descriptor(), i.Invoke)
}
