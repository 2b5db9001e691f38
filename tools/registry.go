// Package tools implements the agent's tool surface: the registry of
// callable tools, the local execution environment they run in, and the
// executor pipeline that validates, confirms, snapshots and runs calls.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/scoutagent/scout/llm"
)

// Executor is the function signature for tool execution. It receives the
// raw JSON arguments and the environment to operate on.
type Executor func(call *Invocation, env Environment) (string, error)

// Descriptor describes a tool: the schema sent to the model plus the
// execution policy the pipeline enforces.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]interface{}

	// Mutating tools modify the filesystem or run commands. They trigger
	// snapshots and are never executed concurrently.
	Mutating bool
	// RequiresConfirmation gates execution on user approval.
	RequiresConfirmation bool
	// ProducesDiff marks tools whose confirmation prompt should show a
	// unified diff of the proposed change.
	ProducesDiff bool
}

// Tool pairs a descriptor with its executor. Preview, set on tools whose
// descriptor has ProducesDiff, renders the unified diff shown at
// confirmation time.
type Tool struct {
	Descriptor Descriptor
	Run        Executor
	Preview    func(call *Invocation, env Environment) (string, error)
}

// Registry manages tool registration and lookup. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Descriptor.Name] = &tool
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a registered tool, or nil if unknown.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the declarations advertised to the model, in name
// order so the request payload is stable across calls.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Descriptor.Name,
			Description: tool.Descriptor.Description,
			Parameters:  tool.Descriptor.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invocation is one tool call being executed: the model's call plus its
// parsed arguments.
type Invocation struct {
	Call llm.ToolCall
	Args map[string]interface{}
}

// ParseArguments unmarshals raw tool-call arguments. An empty payload is
// treated as no arguments.
func ParseArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// ValidateArguments checks parsed arguments against the descriptor's JSON
// schema: required properties must be present and primitive types must
// match. Unknown properties are rejected.
func ValidateArguments(desc Descriptor, args map[string]interface{}) error {
	props, _ := desc.Parameters["properties"].(map[string]interface{})

	for _, name := range requiredParams(desc.Parameters) {
		if _, present := args[name]; !present {
			return fmt.Errorf("missing required parameter %q", name)
		}
	}

	for name, value := range args {
		schema, known := props[name].(map[string]interface{})
		if !known {
			return fmt.Errorf("unknown parameter %q", name)
		}
		wantType, _ := schema["type"].(string)
		if wantType == "" || value == nil {
			continue
		}
		if !typeMatches(wantType, value) {
			return fmt.Errorf("parameter %q: expected %s", name, wantType)
		}
	}
	return nil
}

// requiredParams reads the schema's required list, which is []string when
// built in code and []interface{} when decoded from JSON.
func requiredParams(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func typeMatches(wantType string, value interface{}) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer", "number":
		switch value.(type) {
		case float64, int, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

// StringArg extracts a string argument.
func StringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument.
func IntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// BoolArg extracts a boolean argument.
func BoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
