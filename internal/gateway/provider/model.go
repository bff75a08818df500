package provider

import (
	"context"
	"encoding/json"
)

// Tool is a callable function advertised to the model.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters json.RawMessage
}

// ToolCaller dispatches a tool call chosen by the model.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Invocation is one model request. Tools and Caller are both set or both empty.
type Invocation struct {
	Instructions string
	Input        string
	Context      map[string]any
	Tools        []Tool
	Caller       ToolCaller
	MaxTokens    int
	// Temperature is optional; nil lets the model use its default.
	Temperature *float64

	// TraceRef and Mode only tag transcripts.
	TraceRef string
	Mode     string
}

// Result carries the final assistant text.
type Result struct {
	Text      string
	Model     string
	ToolCalls int
	Rounds    int
}

type ModelProvider interface {
	ID() string
	Run(ctx context.Context, inv Invocation) (Result, error)
}
