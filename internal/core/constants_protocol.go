package core

import "time"

// Default config constants
const (
	DefaultBackendMode         = BackendModeOpenAI
	DefaultChatPath            = "/v1/chat/completions"
	DefaultModelsPath          = "/v1/models"
	DefaultHost                = "0.0.0.0"
	DefaultPort                = "3000"
	DefaultGinMode             = "release"
	DefaultContextLength       = 32768
	DefaultMaxBufferSize       = 1024 * 1024
	DefaultConnectionTimeoutMS = 120000
	DefaultReinjectionMessages = 10
	DefaultReinjectionTokens   = 3000
	DefaultReinjectionType     = ReinjectionTypeFull
	DefaultMaxToolIterations   = 5
	DefaultModelsCacheTTL      = 10 * time.Second
	CORSMaxAge                 = "86400"
)

// Backend modes
const (
	BackendModeOpenAI = "openai"
	BackendModeOllama = "ollama"
)

// Reinjection modes
const (
	ReinjectionTypeFull  = "full"
	ReinjectionTypeNames = "names"
)

// Placeholder values shipped in the sample .env; treated as unset.
const (
	PlaceholderBaseURL   = "YOUR_BACKEND_LLM_BASE_URL_HERE"
	PlaceholderAPIKey    = "YOUR_BACKEND_LLM_API_KEY_HERE"
	PlaceholderReferer   = "YOUR_APP_URL_HERE"
	PlaceholderTitle     = "YOUR_APP_NAME_HERE"
	PlaceholderOllamaURL = "YOUR_OLLAMA_BASE_URL_HERE"
)

// Content type and header constants
const (
	ContentTypeEventStream = "text/event-stream"
	ContentTypeJSON        = "application/json"
	CacheControlNoCache    = "no-cache"
	ConnectionKeepAlive    = "keep-alive"
	HeaderContentType      = "Content-Type"
	HeaderAuthorization    = "Authorization"
	HeaderAccept           = "Accept"
	HeaderCacheControl     = "Cache-Control"
	HeaderConnection       = "Connection"
	HeaderUserAgent        = "User-Agent"
	HeaderReferer          = "HTTP-Referer"
	HeaderTitle            = "X-Title"
	HeaderRequestID        = "X-Request-ID"
	HeaderSynthetic        = "X-Proxy-Synthetic"
	AuthBearerPrefix       = "Bearer "
)

// SSE stream constants
const (
	StreamChunkDoneMessage = "[DONE]"
	StreamChunkPrefix      = "data: "
)

// Role constants
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// API format identifier constants
const (
	APIFormatOpenAI = "openai"
	APIFormatOllama = "ollama"
)

// ToolCallMarker terminates every model template served to clients and marks
// tool-call regions in generated text.
const ToolCallMarker = "ToolCalls"
