package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the agent runtime: provider
// credentials, workspace root, session persistence, and tool execution
// limits. The core state machine takes an already-constructed provider and
// never reads this struct directly — it exists for cmd/agentrun to build
// that provider and its collaborators from a single YAML file plus env
// var overrides.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	LLM       LLMConfig       `yaml:"llm"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the session-history IPC listener.
type ServerConfig struct {
	// SocketPath is the Unix domain socket the session-history server
	// listens on. Defaults to "$XDG_RUNTIME_DIR/agentcore.sock" or
	// "/tmp/agentcore.sock" when unset.
	SocketPath  string `yaml:"socket_path"`
	MetricsPort int    `yaml:"metrics_port"`
}

// SessionConfig controls session persistence and transcript bookkeeping.
type SessionConfig struct {
	// Key scopes which persisted session is resumed on startup. Defaults
	// to "local" for a single-workspace agent.
	Key string `yaml:"key"`

	// HistoryLimit bounds how many messages are replayed into a resumed
	// session. 0 means no limit.
	HistoryLimit int `yaml:"history_limit"`

	// StorePath is the backing file/directory for persisted sessions. An
	// empty value uses an in-memory store (lost on restart).
	StorePath string `yaml:"store_path"`
}

// WorkspaceConfig configures the working directory and the on-disk files
// the agent reads into its system prompt.
type WorkspaceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxChars   int    `yaml:"max_chars"`
	AgentsFile string `yaml:"agents_file"`
	ToolsFile  string `yaml:"tools_file"`
}

// LLMConfig configures the provider used for completions and an optional
// failover chain.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider
	// fails, tried in order until one succeeds.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig holds the credentials and defaults for one provider
// entry. APIKey is normally left empty in the file and supplied through
// the provider's own environment variable (see applyEnvOverrides).
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ToolsConfig controls tool execution behavior and filesystem sandboxing.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Sandbox   SandboxConfig       `yaml:"sandbox"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Parallelism   int           `yaml:"parallelism"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	MaxToolCalls  int           `yaml:"max_tool_calls"`
}

// SandboxConfig restricts filesystem tools to a root directory.
type SandboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(&cfg.Tools)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.SocketPath == "" {
		if dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); dir != "" {
			cfg.SocketPath = dir + "/agentcore.sock"
		} else {
			cfg.SocketPath = "/tmp/agentcore.sock"
		}
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Key == "" {
		cfg.Key = "local"
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 20000
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "AGENTS.md"
	}
	if cfg.ToolsFile == "" {
		cfg.ToolsFile = "TOOLS.md"
	}
}

// DefaultWorkspaceConfig returns a workspace config with defaults applied.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 50
	}
	if cfg.Execution.Parallelism == 0 {
		cfg.Execution.Parallelism = 4
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 1
	}
	if cfg.Sandbox.Root == "" {
		cfg.Sandbox.Root = "."
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// providerEnvVars maps a provider ID to the env vars that supply its
// credentials when the config file leaves them blank.
var providerEnvVars = map[string]struct{ apiKey, baseURL string }{
	"anthropic":         {"ANTHROPIC_API_KEY", ""},
	"mistral":           {"MISTRAL_API_KEY", ""},
	"openai":            {"OPENAI_API_KEY", ""},
	"openrouter":        {"OPENROUTER_API_KEY", ""},
	"ovh":               {"OVH_API_KEY", "OVH_BASE_URL"},
	"openai_compatible": {"OPENAI_COMPATIBLE_API_KEY", "OPENAI_COMPATIBLE_BASE_URL"},
	"ollama":            {"", "OLLAMA_BASE_URL"},
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("AGENTCORE_SOCKET_PATH")); value != "" {
		cfg.Server.SocketPath = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	for id, vars := range providerEnvVars {
		entry := cfg.LLM.Providers[id]
		if vars.apiKey != "" {
			if v := strings.TrimSpace(os.Getenv(vars.apiKey)); v != "" && entry.APIKey == "" {
				entry.APIKey = v
			}
		}
		if vars.baseURL != "" {
			if v := strings.TrimSpace(os.Getenv(vars.baseURL)); v != "" && entry.BaseURL == "" {
				entry.BaseURL = v
			}
		}
		if id == "ollama" && entry.BaseURL == "" {
			entry.BaseURL = "http://127.0.0.1:11434/v1"
		}
		cfg.LLM.Providers[id] = entry
	}
}

// ConfigValidationError aggregates every validation issue found in a config
// file so the caller can report them all at once instead of failing fast.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
		}
	}

	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if cfg.Tools.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}
	if cfg.Tools.Execution.MaxToolCalls < 0 {
		issues = append(issues, "tools.execution.max_tool_calls must be >= 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
