package pharmachat

import (
	"fmt"
	"log/slog"
	"time"

	"pharmachat/agent"
	"pharmachat/llm"
	"pharmachat/tools"
)

// AppConfig holds the runtime configuration of the server and the CLI.
type AppConfig struct {
	Server  ServerConfig      `yaml:"server"`
	LLM     LLMConfig         `yaml:"llm"`
	Neo4j   tools.Neo4jConfig `yaml:"neo4j"`
	OpenFDA tools.FDAConfig   `yaml:"openfda"`
	Reports ReportsConfig     `yaml:"reports"`
	Agent   AgentConfig       `yaml:"agent"`
	Auth    AuthConfig        `yaml:"auth"`
	Log     LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig selects the completion service. Temperature and MaxTokens apply
// to every agent completion call.
type LLMConfig struct {
	llm.ProviderConfig `yaml:",inline"`
	Temperature        *float64 `yaml:"temperature"`
	MaxTokens          int      `yaml:"max_tokens"`
}

type ReportsConfig struct {
	Dir string `yaml:"dir"`
}

type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// ParallelTools > 1 dispatches the tool calls of one reply concurrently.
	ParallelTools    int           `yaml:"parallel_tools"`
	ToolOutputTokens int           `yaml:"tool_output_tokens"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SystemPrompt     string        `yaml:"system_prompt"`
}

// AuthConfig enables bearer token auth on /api/* when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	// File additionally writes logs to a size-rotated file.
	File string `yaml:"file"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *AppConfig {
	temperature := 0.0
	return &AppConfig{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
		LLM: LLMConfig{
			ProviderConfig: llm.ProviderConfig{Provider: llm.ProviderGemini},
			Temperature:    &temperature,
		},
		Neo4j: tools.Neo4jConfig{
			Username:       "neo4j",
			ConnectTimeout: 30 * time.Second,
		},
		OpenFDA: tools.FDAConfig{
			BaseURL:  tools.DefaultOpenFDABaseURL,
			Timeout:  10 * time.Second,
			CacheTTL: 10 * time.Minute,
		},
		Reports: ReportsConfig{Dir: "data"},
		Agent: AgentConfig{
			MaxIterations:    agent.DefaultMaxIterations,
			ParallelTools:    1,
			ToolOutputTokens: 2000,
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Addr returns the listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	switch c.LLM.Provider {
	case "", llm.ProviderGemini, llm.ProviderOpenAI, llm.ProviderOllama, llm.ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.ParallelTools < 0 {
		return fmt.Errorf("agent.parallel_tools must not be negative, got %d", c.Agent.ParallelTools)
	}
	if c.Agent.ToolOutputTokens < 0 {
		return fmt.Errorf("agent.tool_output_tokens must not be negative, got %d", c.Agent.ToolOutputTokens)
	}
	if c.Auth.JWTSecret != "" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ParseLogLevel parses debug, info, warn or error. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
