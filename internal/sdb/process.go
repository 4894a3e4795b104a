package sdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// process is a debuggee started by the runtime
type process struct {
	cmd *exec.Cmd
	pid int

	mu         sync.Mutex
	lastStderr string

	killOnce sync.Once
	done     chan struct{}
}

// exitHandler receives the exit code (-1 when killed by a signal) and the
// last line the process wrote to stderr
type exitHandler func(code int, lastStderr string)

// startProcess runs program through the shell. Stdout is logged; stderr is
// logged and its last line kept for exit diagnostics.
func startProcess(program string, logger *slog.Logger, onExit exitHandler) (*process, error) {
	cmd := shellCommand(program)
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	logger = logger.With("pid", p.pid)
	logger.Info("Launched program", "program", program)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.scan(stdout, func(line string) {
			logger.Debug("Process stdout", "line", line)
		})
	}()
	go func() {
		defer wg.Done()
		p.scan(stderr, func(line string) {
			logger.Warn("Process stderr", "line", line)
			p.mu.Lock()
			p.lastStderr = line
			p.mu.Unlock()
		})
	}()

	go func() {
		wg.Wait()
		code := exitCode(cmd.Wait())
		close(p.done)
		logger.Info("Process exited", "code", code)
		if onExit != nil {
			onExit(code, p.LastStderr())
		}
	}()

	return p, nil
}

func (p *process) scan(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			fn(line)
		}
	}
}

// LastStderr returns the most recent non-empty stderr line
func (p *process) LastStderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStderr
}

// Kill terminates the process group. Safe to call more than once.
func (p *process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		err = killProcessGroup(p.pid, p.cmd)
	})
	return err
}

// Done is closed once the process has exited and its output is drained
func (p *process) Done() <-chan struct{} {
	return p.done
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// exitDiagnostic builds the message reported when the debuggee exits.
// connected means a status snapshot had been received.
func exitDiagnostic(code int, lastStderr string, connected, coarse bool) (string, bool) {
	lastErr := ""
	if lastStderr != "" {
		lastErr = "\nLast stderr: " + lastStderr
	}

	switch {
	case coarse:
		if code == 0 {
			return "", false
		}
		return fmt.Sprintf("Process exited with code %d.%s", code, lastErr), true
	case !connected:
		return fmt.Sprintf("Process exited with code %d before connection to debugger websocket could be established.%s", code, lastErr), true
	case code != 0:
		return fmt.Sprintf("Process exited with code %d.%s", code, lastErr), true
	default:
		return "", false
	}
}
