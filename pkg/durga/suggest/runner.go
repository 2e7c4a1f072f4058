// Package suggest produces natural-language suggested actions for events
// and builds the prompts for the free-text query path. Completions run
// through a one-shot external CLI worker: prompt on stdin, text on stdout.
package suggest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes one completion. Implementations must return whatever
// the worker wrote to stdout even when it exits nonzero, since partial
// output still carries diagnostic value.
type Runner interface {
	Complete(ctx context.Context, prompt string) (output string, exitCode int, err error)
}

// CLIConfig configures the completion worker command.
type CLIConfig struct {
	// Command is the worker binary (e.g. "claude").
	Command string `yaml:"command"`

	// Args are passed before the prompt is written to stdin
	// (e.g. ["--print"]).
	Args []string `yaml:"args"`
}

// CLIRunner spawns the worker per call.
type CLIRunner struct {
	cfg    CLIConfig
	logger *slog.Logger
}

// NewCLIRunner creates a runner for the configured worker command.
func NewCLIRunner(cfg CLIConfig, logger *slog.Logger) *CLIRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRunner{cfg: cfg, logger: logger.With("component", "completion")}
}

// Complete runs one prompt through the worker. A nonzero exit is not an
// error: the captured stdout is returned with the exit code. Only a
// spawn-level failure returns err != nil.
func (r *CLIRunner) Complete(ctx context.Context, prompt string) (string, int, error) {
	cmd := exec.CommandContext(ctx, r.cfg.Command, r.cfg.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			r.logger.Warn("completion worker exited nonzero",
				"code", exitErr.ExitCode(), "stderr", strings.TrimSpace(stderr.String()))
			return stdout.String(), exitErr.ExitCode(), nil
		}
		return "", 0, fmt.Errorf("spawning completion worker: %w", err)
	}

	return stdout.String(), 0, nil
}
