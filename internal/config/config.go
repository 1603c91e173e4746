package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"toolproxy/internal/core"
	"toolproxy/internal/util"

	"gopkg.in/yaml.v3"
)

// ReinjectionConfig controls the tool reinjection policy.
type ReinjectionConfig struct {
	Enabled      bool   `yaml:"enabled"`
	MessageCount int    `yaml:"message_count"`
	TokenCount   int    `yaml:"token_count"`
	Type         string `yaml:"type"`
}

// ServerConfig server configuration
type ServerConfig struct {
	BackendMode          string            `yaml:"backend_mode"`
	BackendBaseURL       string            `yaml:"backend_base_url"`
	BackendChatPath      string            `yaml:"backend_chat_path"`
	BackendAPIKey        string            `yaml:"backend_api_key"`
	OllamaBaseURL        string            `yaml:"ollama_base_url"`
	OllamaAPIKey         string            `yaml:"ollama_api_key"`
	HTTPReferer          string            `yaml:"http_referer"`
	XTitle               string            `yaml:"x_title"`
	DefaultContextLength int               `yaml:"default_context_length"`
	Host                 string            `yaml:"host"`
	Port                 string            `yaml:"port"`
	AuthTokensFile       string            `yaml:"auth_tokens_file"`
	MaxBufferSize        int               `yaml:"max_buffer_size"`
	ConnectionTimeoutMS  int               `yaml:"connection_timeout_ms"`
	ToolReinjection      ReinjectionConfig `yaml:"tool_reinjection"`
	MaxToolIterations    int               `yaml:"max_tool_iterations"`
	Debug                bool              `yaml:"debug"`
	GinMode              string            `yaml:"gin_mode"`
	ModelsCacheTTL       time.Duration     `yaml:"models_cache_ttl"`
	RedisURL             string            `yaml:"redis_url"`
	MetricsEnabled       bool              `yaml:"metrics_enabled"`
	RateLimitPerMinute   int               `yaml:"rate_limit_per_minute"`
	CORSAllowOrigin      string            `yaml:"cors_allow_origin"`

	HTTPClientSettings HTTPClientSettings `yaml:"-"`
}

// HTTPClientSettings HTTP client configuration
type HTTPClientSettings struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultHTTPClientSettings default HTTP client settings
func DefaultHTTPClientSettings() HTTPClientSettings {
	return HTTPClientSettings{
		MaxIdleConns:          core.HTTPMaxIdleConns,
		MaxIdleConnsPerHost:   core.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:       core.HTTPMaxConnsPerHost,
		IdleConnTimeout:       core.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   core.HTTPTLSHandshakeTimeout,
		ResponseHeaderTimeout: time.Duration(core.DefaultConnectionTimeoutMS) * time.Millisecond,
	}
}

// Default returns the configuration used when nothing is set.
func Default() ServerConfig {
	return ServerConfig{
		BackendMode:          core.DefaultBackendMode,
		BackendChatPath:      core.DefaultChatPath,
		DefaultContextLength: core.DefaultContextLength,
		Host:                 core.DefaultHost,
		Port:                 core.DefaultPort,
		MaxBufferSize:        core.DefaultMaxBufferSize,
		ConnectionTimeoutMS:  core.DefaultConnectionTimeoutMS,
		ToolReinjection: ReinjectionConfig{
			MessageCount: core.DefaultReinjectionMessages,
			TokenCount:   core.DefaultReinjectionTokens,
			Type:         core.DefaultReinjectionType,
		},
		MaxToolIterations:  core.DefaultMaxToolIterations,
		GinMode:            core.DefaultGinMode,
		ModelsCacheTTL:     core.DefaultModelsCacheTTL,
		MetricsEnabled:     true,
		CORSAllowOrigin:    "*",
		HTTPClientSettings: DefaultHTTPClientSettings(),
	}
}

// LoadServerConfigFromEnv loads server config from an optional YAML file named
// by PROXY_CONFIG_FILE and then from environment variables, which take
// precedence. The result is validated; warnings go to logger.
func LoadServerConfigFromEnv(logger core.Logger) (ServerConfig, error) {
	cfg := Default()

	if path := os.Getenv("PROXY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
		logger.Info("Loaded configuration file %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, core.NewConfigurationError(err.Error())
	}

	cfg.BackendMode = strings.ToLower(strings.TrimSpace(cfg.BackendMode))
	cfg.ToolReinjection.Type = strings.ToLower(strings.TrimSpace(cfg.ToolReinjection.Type))
	cfg.HTTPClientSettings.ResponseHeaderTimeout = cfg.IdleTimeout()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.logWarnings(logger)
	return cfg, nil
}

func (c *ServerConfig) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from operator config
	if err != nil {
		return core.NewConfigurationError(fmt.Sprintf("failed to read %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return core.NewConfigurationError(fmt.Sprintf("failed to parse %s: %v", path, err))
	}
	return nil
}

func (c *ServerConfig) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := util.GetEnvWithDefault(key, ""); v != "" {
			*dst = v
		}
	}
	var errs []error
	setInt := func(dst *int, key string) {
		v, err := util.GetEnvInt(key, *dst)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	setBool := func(dst *bool, key string) {
		*dst = util.GetEnvBool(key, *dst)
	}

	setString(&c.BackendMode, "BACKEND_MODE")
	setString(&c.BackendBaseURL, "BACKEND_LLM_BASE_URL")
	setString(&c.BackendChatPath, "BACKEND_LLM_CHAT_PATH")
	setString(&c.BackendAPIKey, "BACKEND_LLM_API_KEY")
	setString(&c.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&c.OllamaAPIKey, "OLLAMA_API_KEY")
	setString(&c.HTTPReferer, "HTTP_REFERER")
	setString(&c.XTitle, "X_TITLE")
	setInt(&c.DefaultContextLength, "OLLAMA_DEFAULT_CONTEXT_LENGTH")
	setString(&c.Host, "PROXY_HOST")
	setString(&c.Port, "PROXY_PORT")
	setString(&c.AuthTokensFile, "PROXY_AUTH_TOKENS_FILE")
	setInt(&c.MaxBufferSize, "MAX_BUFFER_SIZE")
	setInt(&c.ConnectionTimeoutMS, "CONNECTION_TIMEOUT")
	setBool(&c.ToolReinjection.Enabled, "ENABLE_TOOL_REINJECTION")
	setInt(&c.ToolReinjection.MessageCount, "TOOL_REINJECTION_MESSAGE_COUNT")
	setInt(&c.ToolReinjection.TokenCount, "TOOL_REINJECTION_TOKEN_COUNT")
	setString(&c.ToolReinjection.Type, "TOOL_REINJECTION_TYPE")
	setInt(&c.MaxToolIterations, "MAX_TOOL_ITERATIONS")
	setBool(&c.Debug, "DEBUG_MODE")
	setString(&c.GinMode, "GIN_MODE")
	setString(&c.RedisURL, "REDIS_URL")
	setBool(&c.MetricsEnabled, "METRICS_ENABLED")
	setInt(&c.RateLimitPerMinute, "RATE_LIMIT")
	setString(&c.CORSAllowOrigin, "CORS_ALLOW_ORIGIN")

	ttl, err := util.GetEnvDuration("MODELS_CACHE_TTL", c.ModelsCacheTTL)
	if err != nil {
		errs = append(errs, err)
	}
	c.ModelsCacheTTL = ttl

	return errors.Join(errs...)
}

// Validate checks the configuration and returns a configuration error for
// the first unusable value.
func (c *ServerConfig) Validate() error {
	switch c.BackendMode {
	case core.BackendModeOpenAI:
		if c.BackendBaseURL == "" {
			return core.NewConfigurationError("BACKEND_LLM_BASE_URL must be set when BACKEND_MODE is 'openai'")
		}
		if c.BackendBaseURL == core.PlaceholderBaseURL {
			return core.NewConfigurationError(fmt.Sprintf("replace the placeholder value for BACKEND_LLM_BASE_URL (%q)", core.PlaceholderBaseURL))
		}
		if c.BackendAPIKey == core.PlaceholderAPIKey {
			return core.NewConfigurationError(fmt.Sprintf("replace the placeholder value for BACKEND_LLM_API_KEY (%q) or remove it", core.PlaceholderAPIKey))
		}
	case core.BackendModeOllama:
		if c.OllamaBaseURL == "" {
			return core.NewConfigurationError("OLLAMA_BASE_URL must be set when BACKEND_MODE is 'ollama'")
		}
		if c.OllamaBaseURL == core.PlaceholderOllamaURL {
			return core.NewConfigurationError(fmt.Sprintf("replace the placeholder value for OLLAMA_BASE_URL (%q)", core.PlaceholderOllamaURL))
		}
		if c.OllamaAPIKey == core.PlaceholderAPIKey {
			return core.NewConfigurationError(fmt.Sprintf("replace the placeholder value for OLLAMA_API_KEY (%q) or remove it", core.PlaceholderAPIKey))
		}
	default:
		return core.NewConfigurationError(fmt.Sprintf("BACKEND_MODE must be either 'openai' or 'ollama', got %q", c.BackendMode))
	}

	if u, err := url.Parse(c.ChatCompletionsURL()); err != nil || u.Scheme == "" || u.Host == "" {
		return core.NewConfigurationError(fmt.Sprintf("invalid chat completions URL %q built from base %q and path %q",
			c.ChatCompletionsURL(), c.BaseURL(), c.BackendChatPath))
	}

	switch {
	case c.MaxBufferSize <= 0:
		return core.NewConfigurationError("MAX_BUFFER_SIZE must be positive")
	case c.ConnectionTimeoutMS <= 0:
		return core.NewConfigurationError("CONNECTION_TIMEOUT must be positive")
	case c.MaxToolIterations <= 0:
		return core.NewConfigurationError("MAX_TOOL_ITERATIONS must be positive")
	case c.DefaultContextLength <= 0:
		return core.NewConfigurationError("OLLAMA_DEFAULT_CONTEXT_LENGTH must be positive")
	case c.ToolReinjection.MessageCount <= 0 || c.ToolReinjection.TokenCount <= 0:
		return core.NewConfigurationError("tool reinjection thresholds must be positive")
	case c.ModelsCacheTTL < 0:
		return core.NewConfigurationError("MODELS_CACHE_TTL must not be negative")
	case c.RateLimitPerMinute < 0:
		return core.NewConfigurationError("RATE_LIMIT must not be negative")
	}

	if c.ToolReinjection.Type != core.ReinjectionTypeFull && c.ToolReinjection.Type != core.ReinjectionTypeNames {
		return core.NewConfigurationError(fmt.Sprintf("TOOL_REINJECTION_TYPE must be 'full' or 'names', got %q", c.ToolReinjection.Type))
	}
	return nil
}

func (c *ServerConfig) logWarnings(logger core.Logger) {
	if c.IsOllamaMode() || !strings.Contains(c.BackendBaseURL, "openrouter") {
		return
	}
	if c.Referer() == "" {
		logger.Warn("HTTP_REFERER is not set or uses the placeholder; it is recommended for OpenRouter")
	}
	if c.Title() == "" {
		logger.Warn("X_TITLE is not set or uses the placeholder; it is recommended for OpenRouter")
	}
}

// IsOllamaMode reports whether the upstream speaks the Ollama protocol natively.
func (c *ServerConfig) IsOllamaMode() bool {
	return c.BackendMode == core.BackendModeOllama
}

// BaseURL returns the upstream base URL for the configured mode, without a
// trailing slash.
func (c *ServerConfig) BaseURL() string {
	if c.IsOllamaMode() {
		return strings.TrimRight(c.OllamaBaseURL, "/")
	}
	return strings.TrimRight(c.BackendBaseURL, "/")
}

// APIKey returns the server-side upstream credential for the configured mode.
func (c *ServerConfig) APIKey() string {
	if c.IsOllamaMode() {
		return c.OllamaAPIKey
	}
	return c.BackendAPIKey
}

// ChatCompletionsURL returns the full upstream chat completions endpoint.
func (c *ServerConfig) ChatCompletionsURL() string {
	path := c.BackendChatPath
	if path == "" {
		path = core.DefaultChatPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL() + path
}

// ModelsURL returns the upstream OpenAI-style model listing endpoint.
func (c *ServerConfig) ModelsURL() string {
	return util.JoinURL(c.BaseURL(), core.DefaultModelsPath)
}

// OllamaAPIURL returns the base used for native /api/show and /api/tags, or
// "" when the upstream is not an Ollama backend.
func (c *ServerConfig) OllamaAPIURL() string {
	if !c.IsOllamaMode() {
		return ""
	}
	return c.BaseURL()
}

// Referer returns the configured attribution referer, ignoring placeholders.
func (c *ServerConfig) Referer() string {
	if c.HTTPReferer == core.PlaceholderReferer {
		return ""
	}
	return c.HTTPReferer
}

// Title returns the configured attribution title, ignoring placeholders.
func (c *ServerConfig) Title() string {
	if c.XTitle == core.PlaceholderTitle {
		return ""
	}
	return c.XTitle
}

// IdleTimeout is the maximum gap between backend data events.
func (c *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMS) * time.Millisecond
}

// ListenAddr returns host:port for the HTTP listener.
func (c *ServerConfig) ListenAddr() string {
	return c.Host + ":" + c.Port
}
