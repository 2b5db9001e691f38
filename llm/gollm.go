package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmClient implements Sender on top of a gollm.LLM instance, translating
// between the package's request/response contract and gollm's API.
type GollmClient struct {
	provider string
	llm      gollm.LLM
}

// GollmOption configures a GollmClient.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. If empty, gollm reads it from the
// provider's environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithGollmOptions appends extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmClient creates a Sender for the given provider. Retries are
// disabled at the gollm layer; the Controller owns retry policy.
func NewGollmClient(provider string, opts ...GollmOption) (*GollmClient, error) {
	cfg := &gollmConfig{
		maxTokens:   8192,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(ModelPrimary),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", provider, err)
	}

	return &GollmClient{provider: provider, llm: llm}, nil
}

// Send issues a single blocking model call.
func (c *GollmClient) Send(ctx context.Context, req Request) (*Response, error) {
	prompt := c.translateRequest(req)

	if req.Model != "" {
		c.llm.SetOption("model", req.Model)
	}

	text, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}

	return c.buildResponse(req, text), nil
}

// translateRequest flattens the conversation into a gollm Prompt.
func (c *GollmClient) translateRequest(req Request) *gollm.Prompt {
	var parts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			parts = append(parts, msg.Text)
		case RoleModel:
			if msg.Text != "" {
				parts = append(parts, "[Assistant]: "+msg.Text)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)", tc.ID, tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			for _, tr := range msg.ToolResults {
				prefix := "[Tool Result " + tr.CallID + "]"
				if tr.IsError {
					prefix = "[Tool Error " + tr.CallID + "]"
				}
				parts = append(parts, prefix+": "+tr.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if req.System != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(req.System, gollm.CacheTypeEphemeral))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
		promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// buildResponse constructs a Response from generated text, extracting any
// embedded tool-call JSON.
func (c *GollmClient) buildResponse(req Request, text string) *Response {
	toolCalls := parseToolCalls(text)
	cleaned := text
	if len(toolCalls) > 0 {
		cleaned = stripToolCallJSON(text)
	}

	inputTokens := estimateTokens(req)
	return &Response{
		ID:        "resp_" + uuid.New().String()[:8],
		Model:     req.Model,
		Text:      cleaned,
		ToolCalls: toolCalls,
		Usage: Usage{
			// gollm does not expose detailed usage; estimate from length.
			InputTokens:  inputTokens,
			OutputTokens: len(text) / 4,
			TotalTokens:  inputTokens + len(text)/4,
		},
	}
}

// parseToolCalls extracts tool calls that gollm returns embedded in the
// response text as a JSON array of {"name": ..., "arguments": ...}.
func parseToolCalls(text string) []ToolCall {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	calls := make([]ToolCall, 0, len(rawCalls))
	for _, rc := range rawCalls {
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

func stripToolCallJSON(text string) string {
	if idx := strings.Index(text, `[{"name"`); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// translateError classifies a gollm error into the package taxonomy.
func (c *GollmClient) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return ErrorFromStatusCode(401, msg, nil)
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return ErrorFromStatusCode(403, msg, nil)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource exhausted"):
		return ErrorFromStatusCode(429, msg, nil)
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return ErrorFromStatusCode(413, msg, nil)
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request") || strings.Contains(lower, "bad request"):
		return ErrorFromStatusCode(400, msg, nil)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &TimeoutError{APIError: APIError{Message: msg, Cause: err}}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server"):
		return ErrorFromStatusCode(500, msg, nil)
	case strings.Contains(lower, "connection") || strings.Contains(lower, "no such host"):
		return &NetworkError{APIError: APIError{Message: msg, Cause: err}}
	default:
		return &ProviderError{APIError: APIError{Message: msg, Cause: err}, Retryable: true}
	}
}

// estimateTokens roughly counts request tokens from message text.
func estimateTokens(req Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		total += len(msg.Text) / 4
		for _, tr := range msg.ToolResults {
			total += len(tr.Content) / 4
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
