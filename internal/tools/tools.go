// Package tools provides the tool contract, the per-agent tool registry and
// the dispatcher that executes model-requested tool calls.
package tools

import (
	"context"
)

// Tool represents a callable capability. Implementations also satisfy
// exactly one of SyncTool or AsyncTool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the LLM.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
}

// SyncTool runs inline.
type SyncTool interface {
	Tool
	Run(args map[string]interface{}) (interface{}, error)
}

// AsyncTool performs blocking I/O and honours cancellation.
type AsyncTool interface {
	Tool
	Arun(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Payload kinds for non-textual tool results.
const (
	KindImage = "image"
	KindAgent = "agent"
	KindTeam  = "team"
)

// Payload is a tagged tool result that callers must special-case rather
// than fold into transcript text.
type Payload struct {
	Kind    string      `json:"kind"`
	Value   interface{} `json:"value"`
	Message string      `json:"message,omitempty"` // text shown to the model in place of the value
}
