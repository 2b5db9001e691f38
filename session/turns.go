package session

import (
	"encoding/json"
	"time"

	"github.com/scoutagent/scout/llm"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCallRecord is a persisted tool-call request from a model turn.
type ToolCallRecord struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Arguments string `yaml:"arguments,omitempty"`
}

// ToolResultRecord is a persisted tool result, correlated by call id.
type ToolResultRecord struct {
	CallID  string `yaml:"call_id"`
	Content string `yaml:"content"`
	IsError bool   `yaml:"is_error,omitempty"`
}

// Turn is one entry in the conversation history. Turns are append-only:
// once created they are never reordered or mutated, and the sequence index
// fixes their position.
type Turn struct {
	Seq         int                `yaml:"seq"`
	Role        Role               `yaml:"role"`
	Timestamp   time.Time          `yaml:"timestamp"`
	Text        string             `yaml:"text,omitempty"`
	ToolCalls   []ToolCallRecord   `yaml:"tool_calls,omitempty"`
	ToolResults []ToolResultRecord `yaml:"tool_results,omitempty"`
}

// UserTurn builds an unsequenced user turn; State.Append assigns Seq.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Timestamp: time.Now(), Text: text}
}

// ModelTurn builds a model turn from a model response.
func ModelTurn(text string, calls []llm.ToolCall) Turn {
	t := Turn{Role: RoleModel, Timestamp: time.Now(), Text: text}
	for _, c := range calls {
		t.ToolCalls = append(t.ToolCalls, ToolCallRecord{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: string(c.Arguments),
		})
	}
	return t
}

// ToolTurn builds a tool-results turn covering one executed batch.
func ToolTurn(results []llm.ToolResult) Turn {
	t := Turn{Role: RoleTool, Timestamp: time.Now()}
	for _, r := range results {
		t.ToolResults = append(t.ToolResults, ToolResultRecord{
			CallID:  r.CallID,
			Content: r.Content,
			IsError: r.IsError,
		})
	}
	return t
}

// Calls converts the persisted tool-call records back to llm values.
func (t Turn) Calls() []llm.ToolCall {
	calls := make([]llm.ToolCall, 0, len(t.ToolCalls))
	for _, c := range t.ToolCalls {
		calls = append(calls, llm.ToolCall{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: json.RawMessage(c.Arguments),
		})
	}
	return calls
}

// ToMessages renders the turn sequence as the message list sent to the
// model. The sequence is the sole source of truth for model context.
func ToMessages(turns []Turn) []llm.Message {
	var messages []llm.Message
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			messages = append(messages, llm.UserMessage(t.Text))
		case RoleModel:
			msg := llm.ModelMessage(t.Text)
			msg.ToolCalls = t.Calls()
			messages = append(messages, msg)
		case RoleTool:
			results := make([]llm.ToolResult, 0, len(t.ToolResults))
			for _, r := range t.ToolResults {
				results = append(results, llm.ToolResult{
					CallID:  r.CallID,
					Content: r.Content,
					IsError: r.IsError,
				})
			}
			messages = append(messages, llm.ToolResultsMessage(results))
		}
	}
	return messages
}
