// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderGemini    LLMProvider = "gemini"
	ProviderGrok      LLMProvider = "grok"
	ProviderMistral   LLMProvider = "mistral"
)

// KnownProviders lists every provider the client factory can build.
var KnownProviders = []LLMProvider{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
	ProviderGrok,
	ProviderMistral,
}

// DesktopBackend selects which desktop driver implementation to run.
type DesktopBackend string

const (
	BackendChromium DesktopBackend = "chromium"
	BackendGateway  DesktopBackend = "gateway"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Desktop DesktopConfig `mapstructure:"desktop" yaml:"desktop"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
}

// LoggerConfig holds settings for the application logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	Host              string          `mapstructure:"host" yaml:"host"`
	Port              int             `mapstructure:"port" yaml:"port"`
	ReadTimeout       time.Duration   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration   `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxConcurrentRuns int             `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds how fast clients may start new chat runs.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// AgentConfig holds settings for the control loop.
type AgentConfig struct {
	// MaxIterations caps how many model round trips one run may take
	// before it is aborted.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// RunTimeout bounds the wall clock time of a single run.
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	// SystemPrompt overrides the built-in system prompt when non-empty.
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
}

// DisplayConfig constrains the resolution presented to the model.
type DisplayConfig struct {
	Bounds schemas.ResolutionBounds `mapstructure:"bounds" yaml:"bounds"`
}

// LLMConfig selects the active provider and carries per-provider settings.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// Providers is keyed by provider name. Entries beyond the active one
	// back the per-request provider override on the chat API.
	Providers map[string]ProviderSettings `mapstructure:"providers" yaml:"providers"`
}

// ProviderSettings configures one upstream model API.
type ProviderSettings struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// ProviderFor returns the settings for a provider, zero valued when the
// provider was never configured.
func (l LLMConfig) ProviderFor(p LLMProvider) ProviderSettings {
	return l.Providers[string(p)]
}

// DesktopConfig selects and configures the desktop backend.
type DesktopConfig struct {
	Backend  DesktopBackend `mapstructure:"backend" yaml:"backend"`
	Chromium ChromiumConfig `mapstructure:"chromium" yaml:"chromium"`
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
}

// ChromiumConfig holds settings for the local Chromium desktop.
type ChromiumConfig struct {
	Headless   bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath   string   `mapstructure:"exec_path" yaml:"exec_path"`
	InitialURL string   `mapstructure:"initial_url" yaml:"initial_url"`
	Args       []string `mapstructure:"args" yaml:"args"`
	// WindowWidth and WindowHeight fix the native desktop resolution.
	WindowWidth  int `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int `mapstructure:"window_height" yaml:"window_height"`
}

// GatewayConfig holds settings for the remote desktop gateway backend.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	AuthSecret     string        `mapstructure:"auth_secret" yaml:"auth_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// StreamURL is handed to clients for a live view of the desktop.
	StreamURL string `mapstructure:"stream_url" yaml:"stream_url"`
}

// JournalConfig configures the optional Postgres run journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "operator-cli")
	v.SetDefault("logger.log_file", "operator.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8370)
	v.SetDefault("server.read_timeout", "30s")
	// The chat endpoint streams until the run terminates, so the write
	// timeout must outlast a whole run.
	v.SetDefault("server.write_timeout", "30m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_concurrent_runs", 4)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.rps", 1.0)
	v.SetDefault("server.rate_limit.burst", 5)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.run_timeout", "15m")

	// -- Display --
	v.SetDefault("display.bounds.min.width", 800)
	v.SetDefault("display.bounds.min.height", 600)
	v.SetDefault("display.bounds.max.width", 1920)
	v.SetDefault("display.bounds.max.height", 1080)

	// -- LLM --
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.providers.openai.model", "gpt-4o")
	v.SetDefault("llm.providers.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.providers.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.providers.gemini.model", "gemini-2.5-pro")
	v.SetDefault("llm.providers.grok.model", "grok-4")
	v.SetDefault("llm.providers.grok.base_url", "https://api.x.ai/v1")
	v.SetDefault("llm.providers.mistral.model", "pixtral-large-latest")
	v.SetDefault("llm.providers.mistral.base_url", "https://api.mistral.ai/v1")

	// -- Desktop --
	v.SetDefault("desktop.backend", "chromium")
	v.SetDefault("desktop.chromium.headless", true)
	v.SetDefault("desktop.chromium.initial_url", "about:blank")
	v.SetDefault("desktop.chromium.window_width", 1280)
	v.SetDefault("desktop.chromium.window_height", 800)
	v.SetDefault("desktop.gateway.token_ttl", "5m")
	v.SetDefault("desktop.gateway.request_timeout", "30s")

	// -- Journal --
	v.SetDefault("journal.enabled", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data. The vendor-standard
	// names are accepted as fallbacks so existing shells keep working.
	v.BindEnv("llm.providers.openai.api_key", "OPERATOR_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("llm.providers.anthropic.api_key", "OPERATOR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.providers.gemini.api_key", "OPERATOR_GEMINI_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("llm.providers.grok.api_key", "OPERATOR_GROK_API_KEY", "XAI_API_KEY")
	v.BindEnv("llm.providers.mistral.api_key", "OPERATOR_MISTRAL_API_KEY", "MISTRAL_API_KEY")
	v.BindEnv("desktop.gateway.auth_secret", "OPERATOR_GATEWAY_SECRET")
	v.BindEnv("journal.url", "OPERATOR_JOURNAL_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be a positive integer")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RPS <= 0 {
		return fmt.Errorf("server.rate_limit.rps must be positive when rate limiting is enabled")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if err := c.Display.Validate(); err != nil {
		return fmt.Errorf("display configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.Desktop.Validate(); err != nil {
		return fmt.Errorf("desktop configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the display bounds.
func (d *DisplayConfig) Validate() error {
	b := d.Bounds
	if b.Max.IsZero() {
		return fmt.Errorf("bounds.max must set both width and height")
	}
	if b.Min.Width > b.Max.Width || b.Min.Height > b.Max.Height {
		return fmt.Errorf("bounds.min must not exceed bounds.max")
	}
	return nil
}

// Validate checks the LLM settings.
func (l *LLMConfig) Validate() error {
	known := false
	for _, p := range KnownProviders {
		if l.Provider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown provider %q", l.Provider)
	}
	if l.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be a positive integer")
	}
	if l.ProviderFor(l.Provider).Model == "" {
		return fmt.Errorf("no model configured for provider %q", l.Provider)
	}
	return nil
}

// Validate checks the desktop backend selection.
func (d *DesktopConfig) Validate() error {
	switch d.Backend {
	case BackendChromium:
		if d.Chromium.WindowWidth <= 0 || d.Chromium.WindowHeight <= 0 {
			return fmt.Errorf("chromium.window_width and chromium.window_height must be positive")
		}
	case BackendGateway:
		if d.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway.base_url is required for the gateway backend")
		}
		if d.Gateway.AuthSecret == "" {
			return fmt.Errorf("gateway auth secret is required but not found. Ensure OPERATOR_GATEWAY_SECRET is set")
		}
	default:
		return fmt.Errorf("unknown desktop backend %q", d.Backend)
	}
	return nil
}
