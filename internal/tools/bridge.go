package tools

import (
	"context"
	"fmt"

	aktools "github.com/vinayprograms/agentkit/tools"
)

// bridgeTool exposes one agentkit built-in tool (read, write, bash,
// web_fetch...) through the Tool contract.
type bridgeTool struct {
	name        string
	description string
	parameters  map[string]interface{}
	registry    *aktools.Registry
}

func (b *bridgeTool) Name() string                       { return b.name }
func (b *bridgeTool) Description() string                { return b.description }
func (b *bridgeTool) Parameters() map[string]interface{} { return b.parameters }

func (b *bridgeTool) Arun(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	t := b.registry.Get(b.name)
	if t == nil {
		return nil, fmt.Errorf("tool not found: %s", b.name)
	}
	return t.Execute(ctx, args)
}

// Bridge wraps every tool the agentkit registry enables under its policy.
func Bridge(reg *aktools.Registry) []Tool {
	if reg == nil {
		return nil
	}
	var out []Tool
	for _, def := range reg.Definitions() {
		out = append(out, &bridgeTool{
			name:        def.Name,
			description: def.Description,
			parameters:  def.Parameters,
			registry:    reg,
		})
	}
	return out
}
