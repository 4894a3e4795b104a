//go:build !windows

package sdb

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// shellCommand runs program through the system shell so launch configurations
// can pass a full command line
func shellCommand(program string) *exec.Cmd {
	//nolint:gosec // G204: launching the debuggee is the purpose of this command
	return exec.Command("/bin/sh", "-c", program)
}

// killProcessGroup kills a process and its entire process group.
// On Unix systems, we use negative PID to signal the entire process group.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			// ESRCH means the process doesn't exist (already terminated), which is fine
			if err != syscall.ESRCH {
				return err
			}
		}
	} else if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// setProcAttr puts the shell in a new session so the shell and everything it
// starts share one process group.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
