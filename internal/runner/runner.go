// Package runner executes the externally configured handlers behind lazily
// registered command tokens (make/database/publishing groups).
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultShell runs handler command lines. Extra CLI arguments are passed as
// positional parameters so they reach the command unquoted and unmodified.
var DefaultShell = []string{"/bin/sh", "-c"}

// Options configures a Runner.
type Options struct {
	Shell  []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Logger *logrus.Logger
}

// Runner runs handlers from a Registry.
type Runner struct {
	registry *Registry
	opts     Options
	logger   *logrus.Logger
}

// New builds a Runner; nil writers default to the process stdio.
func New(registry *Registry, opts Options) *Runner {
	if registry == nil {
		registry = &Registry{}
	}
	if len(opts.Shell) == 0 {
		opts.Shell = DefaultShell
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{registry: registry, opts: opts, logger: logger}
}

// Registry exposes the handler registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes the handler for token and returns its exit code. A non-zero
// exit is reported through the code, not as an error.
func (r *Runner) Run(ctx context.Context, token string, args []string, env ...string) (int, error) {
	h, ok := r.registry.Fetch(token)
	if !ok {
		return 1, fmt.Errorf("%w: %s", ErrNoHandler, token)
	}

	argv := append([]string(nil), r.opts.Shell[1:]...)
	argv = append(argv, h.Command+` "$@"`, h.Token)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, r.opts.Shell[0], argv...)
	cmd.Dir = r.opts.Dir
	cmd.Stdout = r.opts.Stdout
	cmd.Stderr = r.opts.Stderr
	cmd.Env = append(os.Environ(), r.opts.Env...)
	cmd.Env = append(cmd.Env, "MODKIT_TOKEN="+h.Token)
	cmd.Env = append(cmd.Env, env...)

	started := time.Now()
	err := cmd.Run()
	fields := logrus.Fields{
		"action":   "command_run",
		"token":    h.Token,
		"duration": time.Since(started).Milliseconds(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			fields["exit_code"] = exitErr.ExitCode()
			r.logger.WithFields(fields).Warn("command_failed")
			return exitErr.ExitCode(), nil
		}
		r.logger.WithFields(fields).WithError(err).Error("command_start_failed")
		return 1, fmt.Errorf("run %s: %w", h.Token, err)
	}
	fields["exit_code"] = 0
	r.logger.WithFields(fields).Debug("command_finished")
	return 0, nil
}
