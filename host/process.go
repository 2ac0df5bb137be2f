package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/moviola-io/moviola/dispatch"
	"github.com/moviola-io/moviola/log"
	"github.com/moviola-io/moviola/types"
)

// killGrace is how long Close waits for a clean exit after stdin EOF
// before killing the process.
const killGrace = 3 * time.Second

// ProcessConfig configures a spawned script host.
type ProcessConfig struct {
	// HostPath is the path to the host binary.
	HostPath string
	// ScriptPath is the path to the script the host evaluates.
	ScriptPath string
	// Args are extra arguments appended after the script path.
	Args []string
	// Env overrides the process environment when non-nil.
	Env []string
	// Logger is optional.
	Logger *log.Logger
}

// Process is a running script host: the subprocess plus the protocol
// client over its pipes. It implements the dispatch backend.
type Process struct {
	client *Client
	cmd    *exec.Cmd
	logger *log.Logger
	waitCh chan error
}

// Spawn starts the host binary and completes the protocol handshake.
// Cancelling ctx kills the process.
func Spawn(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	args := append([]string{cfg.ScriptPath}, cfg.Args...)
	cmd := exec.CommandContext(ctx, cfg.HostPath, args...)
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start script host: %w", err)
	}

	go forwardStderr(stderr, logger)

	client, err := NewClient(stdin, stdout, cfg.ScriptPath, logger)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	p := &Process{
		client: client,
		cmd:    cmd,
		logger: logger,
		waitCh: make(chan error, 1),
	}
	go func() { p.waitCh <- cmd.Wait() }()

	logger.Info("script host started", map[string]any{
		"host":   cfg.HostPath,
		"script": cfg.ScriptPath,
		"pid":    cmd.Process.Pid,
	})
	return p, nil
}

// forwardStderr relays host diagnostics into engine logging line by line.
func forwardStderr(r io.Reader, logger *log.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Warn("host stderr", map[string]any{"line": scanner.Text()})
	}
}

// Nodes asks the host for the script's output nodes.
func (p *Process) Nodes(ctx context.Context) ([]types.OutputNode, error) {
	return p.client.Nodes(ctx)
}

// RenderFrame asks the host to decode one frame.
func (p *Process) RenderFrame(ctx context.Context, node types.NodeID, index int) (*dispatch.FrameData, error) {
	return p.client.RenderFrame(ctx, node, index)
}

// Close signals the host to exit by closing stdin, waits briefly for a
// clean exit, and kills it if it lingers.
func (p *Process) Close() error {
	closeErr := p.client.Close()

	select {
	case err := <-p.waitCh:
		return exitError(err)
	case <-time.After(killGrace):
	}

	p.logger.Warn("script host did not exit, killing", map[string]any{
		"pid": p.cmd.Process.Pid,
	})
	_ = p.cmd.Process.Kill()
	err := <-p.waitCh
	if closeErr != nil {
		return closeErr
	}
	return exitError(err)
}

// exitError normalizes cmd.Wait results: signals are expected shutdown,
// nonzero exits are host failures.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			// Killed by us or by ctx cancellation; not a host failure.
			return nil
		}
		return fmt.Errorf("script host exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("script host wait failed: %w", err)
}

var _ dispatch.Backend = (*Process)(nil)
