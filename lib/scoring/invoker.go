// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wattwatch/wattwatch/lib/schema/electricity"
)

var (
	// ErrScoringFailed reports a scorer run that produced no usable
	// result.
	ErrScoringFailed = errors.New("scoring failed")

	// ErrScoringTimeout reports a scorer run killed at its deadline.
	ErrScoringTimeout = errors.New("scoring timed out")
)

const (
	// DefaultTimeout bounds one scorer run when Config.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	// maxOutputSize bounds the scorer's stdout. A result for one
	// reading is a few hundred bytes.
	maxOutputSize = 1 << 20

	// maxStderrSize bounds the stderr kept for diagnostics.
	maxStderrSize = 8 << 10

	// waitDelay is how long Wait keeps reading pipes after the process
	// has been killed or has exited.
	waitDelay = time.Second
)

// Config describes how to launch the scorer.
type Config struct {
	// Command is the scorer's argv. Command[0] is resolved via PATH
	// unless it contains a slash. Required.
	Command []string

	// Dir is the working directory for the scorer. Empty means the
	// daemon's working directory. The reference scorer loads its
	// per-device models from a path relative to this directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the daemon's
	// environment.
	Env []string

	// Timeout bounds one run. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives per-run debug records. Nil means slog.Default().
	Logger *slog.Logger
}

// Invoker launches scorer processes. It holds only configuration and
// is safe for concurrent use; concurrency limits are the caller's
// business.
type Invoker struct {
	command []string
	dir     string
	env     []string
	timeout time.Duration
	logger  *slog.Logger
}

// New validates cfg and returns an Invoker.
func New(cfg Config) (*Invoker, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("scoring: Command is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("scoring: negative Timeout %v", cfg.Timeout)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var env []string
	if len(cfg.Env) > 0 {
		env = append(os.Environ(), cfg.Env...)
	}
	return &Invoker{
		command: append([]string(nil), cfg.Command...),
		dir:     cfg.Dir,
		env:     env,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Timeout returns the per-run bound.
func (i *Invoker) Timeout() time.Duration { return i.timeout }

// Score runs the scorer once for reading and returns the parsed model
// results. Errors wrap ErrScoringFailed or ErrScoringTimeout.
func (i *Invoker) Score(ctx context.Context, reading electricity.Reading) ([]electricity.ModelResult, error) {
	input, err := json.Marshal(electricity.NewScoringRequest(reading))
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrScoringFailed, err)
	}

	runContext, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	stdout := &boundedBuffer{limit: maxOutputSize}
	stderr := &boundedBuffer{limit: maxStderrSize}

	cmd := exec.CommandContext(runContext, i.command[0], i.command[1:]...)
	cmd.Dir = i.dir
	cmd.Env = i.env
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid: the whole process group.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if runErr != nil {
		switch {
		case errors.Is(runContext.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return nil, fmt.Errorf("%w after %v", ErrScoringTimeout, i.timeout)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %v", ErrScoringFailed, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%w: exit status %d: %s",
				ErrScoringFailed, exitErr.ExitCode(), stderr.summary())
		}
		return nil, fmt.Errorf("%w: %v", ErrScoringFailed, runErr)
	}

	i.logger.Debug("scorer finished",
		"device_id", reading.DeviceID,
		"duration", elapsed,
		"stdout_bytes", stdout.Len(),
	)

	if stdout.truncated {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrScoringFailed, maxOutputSize)
	}
	return ParseOutput(stdout.Bytes())
}

// ParseOutput decodes scorer stdout. Errors wrap ErrScoringFailed.
func ParseOutput(output []byte) ([]electricity.ModelResult, error) {
	output = bytes.TrimSpace(output)
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: scorer produced no output", ErrScoringFailed)
	}
	var results []electricity.ModelResult
	if err := json.Unmarshal(output, &results); err != nil {
		return nil, fmt.Errorf("%w: parsing output: %v", ErrScoringFailed, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: scorer returned no model results", ErrScoringFailed)
	}
	return results, nil
}

// boundedBuffer keeps the first limit bytes written to it and drops
// the rest, so a runaway scorer cannot grow the daemon's heap. Writes
// never fail; a failing writer would make the scorer see EPIPE.
type boundedBuffer struct {
	bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Buffer.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.Buffer.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// summary returns the last line of stderr, which for a Python scorer
// is the exception message.
func (b *boundedBuffer) summary() string {
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "(no stderr)"
	}
	if index := strings.LastIndexByte(text, '\n'); index >= 0 {
		text = text[index+1:]
	}
	return text
}
