// Package bash implements the bash tool: synchronous shell command
// execution with a timeout and optional working directory/environment
// overrides.
package bash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/shai-run/agentcore/internal/tooling"
)

// Params is the bash tool's parameter shape.
type Params struct {
	Command    string            `json:"command" jsonschema:"required,description=Shell command to run."`
	Timeout    int               `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds. Defaults to 120."`
	WorkingDir string            `json:"working_dir,omitempty" jsonschema:"description=Working directory for the command, relative to the workspace root."`
	Env        map[string]string `json:"env,omitempty" jsonschema:"description=Additional environment variables."`
}

// Tool implements the bash tool.
type Tool struct {
	resolver       tooling.Resolver
	defaultTimeout time.Duration
	schema         json.RawMessage
}

// New constructs a bash tool scoped to workspaceRoot.
func New(workspaceRoot string) *Tool {
	return &Tool{
		resolver:       tooling.Resolver{Root: workspaceRoot},
		defaultTimeout: 120 * time.Second,
		schema:         tooling.BuildSchema(Params{}),
	}
}

func (t *Tool) Name() string        { return "bash" }
func (t *Tool) Description() string { return "Execute a shell command and return its output." }
func (t *Tool) ParameterSchema() json.RawMessage { return t.schema }
func (t *Tool) Capabilities() []tooling.Capability {
	return []tooling.Capability{tooling.CapabilityRead, tooling.CapabilityWrite, tooling.CapabilityNetwork}
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tooling.Result, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return tooling.Err(fmt.Sprintf("invalid parameters: %v", err), nil), nil
	}
	if p.Command == "" {
		return tooling.Err("command is required", nil), nil
	}

	timeout := t.defaultTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}

	workDir := t.resolver.Root
	if p.WorkingDir != "" {
		resolved, err := t.resolver.Resolve(p.WorkingDir)
		if err != nil {
			return tooling.Err(err.Error(), nil), nil
		}
		workDir = resolved
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "sh", "-c", p.Command)
	cmd.Dir = workDir
	cmd.Env = buildEnv(p.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return tooling.Err(fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds())), map[string]any{
			"command":          p.Command,
			"execution_time_ms": elapsed.Milliseconds(),
		}), nil
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return tooling.Err(fmt.Sprintf("failed to execute command: %v", err), nil), nil
		}
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n--- STDERR ---\n" + stderr.String()
	}

	metadata := map[string]any{
		"command":           p.Command,
		"exit_code":         exitCode,
		"execution_time_ms": elapsed.Milliseconds(),
	}
	if p.WorkingDir != "" {
		metadata["working_dir"] = p.WorkingDir
	}
	if len(p.Env) > 0 {
		metadata["env_vars"] = p.Env
	}

	if exitCode != 0 {
		return &tooling.Result{
			Success:  false,
			Error:    fmt.Sprintf("Command failed with exit code %d", exitCode),
			Output:   output,
			Metadata: metadata,
		}, nil
	}

	return tooling.Ok(output, metadata), nil
}

func buildEnv(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	env := append([]string{}, os.Environ()...)
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
