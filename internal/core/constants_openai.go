package core

// OpenAI object type constants
const (
	ChatCompletionObjectType      = "chat.completion"
	ChatCompletionChunkObjectType = "chat.completion.chunk"
	ModelListObjectType           = "list"
)

// ID prefix constants
const (
	ResponseIDPrefix = "chatcmpl-"
	ToolCallIDPrefix = "call_"
)

// OpenAI tool type constants
const (
	ToolTypeFunction = "function"
)

// OpenAI finish reason constants
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)
