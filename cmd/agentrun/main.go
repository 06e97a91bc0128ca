// Package main provides the CLI entry point for the agent runtime.
//
// agentrun wires a YAML config file into a running Controller: it builds
// the configured LLM provider, registers the fixed tool surface (bash,
// read, write, edit, multiedit, ls, find, fetch, todo_read, todo_write)
// behind a claim-gated registry, starts the session-history IPC server,
// and drives the result over stdin/stdout.
//
// # Basic Usage
//
// Start an interactive session:
//
//	agentrun run --config agentcore.yaml
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: path to the configuration file (default: agentcore.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, MISTRAL_API_KEY, OPENROUTER_API_KEY:
//     provider credentials, read when the config file leaves them blank
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shai-run/agentcore/internal/agent"
	"github.com/shai-run/agentcore/internal/agent/providers"
	"github.com/shai-run/agentcore/internal/claims"
	"github.com/shai-run/agentcore/internal/config"
	"github.com/shai-run/agentcore/internal/fsops"
	"github.com/shai-run/agentcore/internal/observability"
	"github.com/shai-run/agentcore/internal/sessions"
	"github.com/shai-run/agentcore/internal/tools/bash"
	"github.com/shai-run/agentcore/internal/tools/edit"
	"github.com/shai-run/agentcore/internal/tools/fetch"
	"github.com/shai-run/agentcore/internal/tools/find"
	"github.com/shai-run/agentcore/internal/tools/ls"
	"github.com/shai-run/agentcore/internal/tools/multiedit"
	"github.com/shai-run/agentcore/internal/tools/read"
	"github.com/shai-run/agentcore/internal/tools/todo"
	"github.com/shai-run/agentcore/internal/tools/write"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main for testability.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentrun",
		Short:        "agentrun - single-agent tool-using runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd())
	return root
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if v := strings.TrimSpace(os.Getenv("AGENTCORE_CONFIG")); v != "" {
		return v
	}
	return "agentcore.yaml"
}

func buildRunCmd() *cobra.Command {
	var (
		configPath       string
		providerOverride string
		modelOverride    string
		sudo             bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive agent session against stdin/stdout",
		Example: `  # Start with the default config file
  agentrun run

  # Override the configured provider for this session
  agentrun run --provider openrouter --model openai/gpt-4o

  # Start already fully permitted (skip permission prompts)
  agentrun run --sudo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOpts{
				configPath: resolveConfigPath(configPath),
				provider:   providerOverride,
				model:      modelOverride,
				sudo:       sudo,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&providerOverride, "provider", "", "Override llm.default_provider for this run")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the provider's default model for this run")
	cmd.Flags().BoolVar(&sudo, "sudo", false, "Start with every tool call pre-permitted")

	return cmd
}

type runOpts struct {
	configPath string
	provider   string
	model      string
	sudo       bool
}

func runRun(ctx context.Context, opts runOpts) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentrun",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableInsecure: true,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	metrics := observability.NewMetrics()

	providerID := strings.ToLower(strings.TrimSpace(opts.provider))
	if providerID == "" {
		providerID = cfg.LLM.DefaultProvider
	}
	llmProvider, model, err := buildProvider(cfg, providerID)
	if err != nil {
		return err
	}
	if opts.model != "" {
		model = opts.model
	}
	if len(cfg.LLM.FallbackChain) > 0 {
		orchestrator := agent.NewFailoverOrchestrator(llmProvider, agent.DefaultFailoverConfig())
		for _, fallbackID := range cfg.LLM.FallbackChain {
			fallbackProvider, _, err := buildProvider(cfg, strings.ToLower(strings.TrimSpace(fallbackID)))
			if err != nil {
				logger.Warn(ctx, "skipping unusable fallback provider", "provider", fallbackID, "error", err)
				continue
			}
			orchestrator.AddProvider(fallbackProvider)
		}
		llmProvider = orchestrator
	}

	manager := claims.NewManager()
	if opts.sudo {
		manager.SetSudo(true)
	}

	registry := buildToolRegistry(cfg, manager)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		logger.Info(ctx, "metrics listening", "addr", addr)
	}

	if cfg.Server.SocketPath != "" {
		store := sessions.NewMemoryStore()
		ipcServer, err := sessions.ListenIPC(cfg.Server.SocketPath, store)
		if err != nil {
			logger.Warn(ctx, "session IPC server disabled", "error", err)
		} else {
			go func() {
				if err := ipcServer.Serve(ctx); err != nil && ctx.Err() == nil {
					logger.Error(ctx, "session IPC server stopped", "error", err)
				}
			}()
			defer ipcServer.Close()
			logger.Info(ctx, "session IPC listening", "socket", cfg.Server.SocketPath)
		}
	}

	controller := agent.NewController(llmProvider, registry, manager, agent.ControllerConfig{
		Model:          model,
		System:         workspaceSystemPrompt(cfg),
		MaxTokens:      4096,
		ToolCallMethod: agent.ToolCallTryAll,
		GoalCheck:      false,
		Logger:         logger,
		Tracer:         tracer,
		Metrics:        metrics,
		EventBuffer:    64,
		ResultGuard: agent.ToolResultGuard{
			Enabled:         true,
			MaxChars:        agent.DefaultMaxToolResultSize,
			SanitizeSecrets: true,
		},
	})

	go controller.Run(ctx)

	events, unsubscribe := controller.Subscribe(64)
	defer unsubscribe()

	out := os.Stdout
	fmt.Fprintf(out, "agentrun %s — type a message and press enter (Ctrl+D to quit)\n", version)

	lines := readLines(ctx, os.Stdin)
	awaitingPermission := ""

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-controller.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(out, ev, &awaitingPermission)

		case line, ok := <-lines:
			if !ok {
				_ = controller.Drop()
				return nil
			}
			if awaitingPermission != "" {
				resp := parsePermissionResponse(line)
				if err := controller.RespondPermission(awaitingPermission, resp); err != nil {
					fmt.Fprintf(out, "error responding to permission request: %v\n", err)
				}
				awaitingPermission = ""
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := controller.SendUserInput(line); err != nil {
				fmt.Fprintf(out, "error sending input: %v\n", err)
			}
		}
	}
}

func readLines(ctx context.Context, f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		reader := bufio.NewReader(f)
		for {
			line, err := reader.ReadString('\n')
			line = strings.TrimRight(line, "\r\n")
			if line != "" {
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func parsePermissionResponse(line string) agent.PermissionResponseKind {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "always":
		return agent.PermissionAllowAlways
	case "n", "no", "deny":
		return agent.PermissionDeny
	default:
		return agent.PermissionAllow
	}
}

func printEvent(out *os.File, ev agent.ControllerEvent, awaitingPermission *string) {
	switch ev.Type {
	case agent.EventThinkingStart:
		fmt.Fprintln(out, "...")
	case agent.EventBrainResult:
		if ev.Message != nil && ev.Message.Content != "" {
			fmt.Fprintln(out, ev.Message.Content)
		}
	case agent.EventToolCallStarted:
		if ev.Call != nil {
			fmt.Fprintf(out, "  > %s\n", ev.Call.Name)
		}
	case agent.EventToolCallCompleted:
		if ev.Call != nil && ev.Result != nil {
			status := "ok"
			if ev.Result.IsError {
				status = "error"
			}
			fmt.Fprintf(out, "  < %s (%s, %s)\n", ev.Call.Name, status, ev.Duration)
		}
	case agent.EventPermissionRequired:
		if ev.Request != nil {
			*awaitingPermission = ev.RequestID
			fmt.Fprintf(out, "permission required for %s — allow? [y]es/[n]o/[a]lways: ", ev.Request.Call.Name)
		}
	case agent.EventError:
		fmt.Fprintf(out, "error: %v\n", ev.Err)
	case agent.EventCompleted:
		if !ev.Success {
			fmt.Fprintln(out, "(cancelled)")
		}
	}
}

func workspaceSystemPrompt(cfg *config.Config) string {
	if !cfg.Workspace.Enabled {
		return ""
	}
	var parts []string
	for _, name := range []string{cfg.Workspace.AgentsFile, cfg.Workspace.ToolsFile} {
		if name == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cfg.Workspace.Path, name))
		if err != nil {
			continue
		}
		text := string(data)
		if cfg.Workspace.MaxChars > 0 && len(text) > cfg.Workspace.MaxChars {
			text = text[:cfg.Workspace.MaxChars]
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

// buildProvider constructs the LLMProvider named by id from cfg's
// per-provider credentials, returning the model to use (the provider's
// entry's default_model, falling back to the adapter's own default).
func buildProvider(cfg *config.Config, id string) (agent.LLMProvider, string, error) {
	entry := cfg.LLM.Providers[id]

	switch id {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  entry.APIKey,
			BaseURL: entry.BaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("anthropic provider: %w", err)
		}
		return p, entry.DefaultModel, nil

	case "openai":
		p := providers.NewOpenAIProvider(entry.APIKey)
		return p, entry.DefaultModel, nil

	case "openrouter":
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
			AppName:      "agentrun",
		})
		if err != nil {
			return nil, "", fmt.Errorf("openrouter provider: %w", err)
		}
		return p, entry.DefaultModel, nil

	case "mistral":
		p, err := providers.NewMistralProvider(providers.MistralConfig{
			APIKey:       entry.APIKey,
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		})
		if err != nil {
			return nil, "", fmt.Errorf("mistral provider: %w", err)
		}
		return p, entry.DefaultModel, nil

	case "ollama":
		p := providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		})
		return p, entry.DefaultModel, nil

	case "openai_compatible", "ovh":
		p, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       entry.APIKey,
			DefaultModel: entry.DefaultModel,
		})
		if err != nil {
			return nil, "", fmt.Errorf("%s provider: %w", id, err)
		}
		return p, entry.DefaultModel, nil

	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", id)
	}
}

// buildToolRegistry registers the fixed ten-tool surface against a
// shared filesystem operation log, gated by manager.
func buildToolRegistry(cfg *config.Config, manager *claims.Manager) *agent.ToolRegistry {
	root := cfg.Workspace.Path
	if root == "" {
		root = "."
	}
	log := fsops.New()
	list := todo.NewList()

	registry := agent.NewToolRegistry(manager)
	registry.Register(bash.New(root))
	registry.Register(read.New(root, log))
	registry.Register(write.New(root, log))
	registry.Register(edit.New(root, log))
	registry.Register(multiedit.New(root, log))
	registry.Register(ls.New(root))
	registry.Register(find.New(root))
	registry.Register(fetch.New(false))
	registry.Register(todo.NewReadTool(list))
	registry.Register(todo.NewWriteTool(list))
	return registry
}
