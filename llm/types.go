// Package llm wraps a remote language model behind a small request/response
// contract, layering retry with exponential backoff and a one-directional
// fallback to a faster model variant under sustained rate limiting.
package llm

import "encoding/json"

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCall is a model-initiated tool invocation. ID correlates the call with
// the ToolResult produced for it within the same model turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a single tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Message is the fundamental unit of conversation sent to the model.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// ModelMessage creates a model Message with text content.
func ModelMessage(text string) Message {
	return Message{Role: RoleModel, Text: text}
}

// ToolResultsMessage creates a tool Message carrying a batch of results.
func ToolResultsMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results}
}

// ToolDefinition describes a tool to the model (serializable metadata).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the input to a single model call.
type Request struct {
	Model    string           `json:"model"`
	System   string           `json:"system,omitempty"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// Usage tracks token consumption for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Response is the output of a single model call: either a final text answer
// (no tool calls) or a batch of tool-call requests, possibly with lead text.
type Response struct {
	ID        string     `json:"id"`
	Model     string     `json:"model"`
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// HasToolCalls reports whether the response requests any tool executions.
// A response without tool calls is the terminal answer for the exchange.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
