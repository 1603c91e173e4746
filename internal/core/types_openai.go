package core

// ChatMessage represents a single message in an OpenAI chat completion request.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation within a chat message.
type ToolCall struct {
	Index    *int     `json:"index,omitempty"`
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function holds the function name and arguments for a tool call.
type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionRequest is the typed view of an inbound chat completion body.
// Only the fields the gateway inspects are decoded; the raw body is forwarded
// as-is so unknown sampling parameters survive the round trip.
type ChatCompletionRequest struct {
	Model     string         `json:"model"`
	Messages  []ChatMessage  `json:"messages"`
	Stream    bool           `json:"stream"`
	Tools     []Tool         `json:"tools,omitempty"`
	Functions []ToolFunction `json:"functions,omitempty"`
}

// HasTools reports whether the request declares any tool or legacy function schema.
func (r *ChatCompletionRequest) HasTools() bool {
	return len(r.Tools) > 0 || len(r.Functions) > 0
}

// ToolNames returns the declared tool names in declaration order.
func (r *ChatCompletionRequest) ToolNames() []string {
	names := make([]string, 0, len(r.Tools)+len(r.Functions))
	for _, t := range r.Tools {
		if t.Function.Name != "" {
			names = append(names, t.Function.Name)
		}
	}
	for _, f := range r.Functions {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	return names
}

// Tool represents a tool definition in an OpenAI chat completion request.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction holds the function schema for a tool definition.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// StreamChunk is one decoded chat.completion.chunk event from the backend.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice represents a single choice in a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta is the incremental payload of a streaming choice.
type StreamDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          *string         `json:"content,omitempty"`
	ReasoningContent *string         `json:"reasoning_content,omitempty"`
	Reasoning        *string         `json:"reasoning,omitempty"`
	ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
}

// HasText reports whether the delta carries content or reasoning text.
func (d StreamDelta) HasText() bool {
	return d.Content != nil || d.ReasoningContent != nil || d.Reasoning != nil
}

// ToolCallDelta is a fragment of a tool call as delivered in a stream.
type ToolCallDelta struct {
	Index    int           `json:"index"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function"`
}

// FunctionDelta carries the optional name and an arguments fragment.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// OutboundChunk is a chunk synthesized by the gateway, used to emit
// reassembled tool calls.
type OutboundChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []OutboundChoice `json:"choices"`
}

// OutboundChoice is a single choice of an OutboundChunk.
type OutboundChoice struct {
	Index        int           `json:"index"`
	Delta        OutboundDelta `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

// OutboundDelta is the delta of an OutboundChoice.
type OutboundDelta struct {
	Role      string     `json:"role,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// OpenAIModel is a single entry of an upstream /v1/models listing. Context
// length hints come from vLLM (max_model_len) or OpenRouter (context_length).
type OpenAIModel struct {
	ID            string `json:"id"`
	Object        string `json:"object,omitempty"`
	Created       int64  `json:"created,omitempty"`
	OwnedBy       string `json:"owned_by,omitempty"`
	License       string `json:"license,omitempty"`
	MaxModelLen   int    `json:"max_model_len,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// ContextHint returns the authoritative context length reported by the
// listing, or zero when none was reported.
func (m OpenAIModel) ContextHint() int {
	if m.MaxModelLen > 0 {
		return m.MaxModelLen
	}
	return m.ContextLength
}

// OpenAIModelList is the upstream /v1/models response.
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}
