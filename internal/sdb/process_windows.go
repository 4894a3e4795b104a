//go:build windows

package sdb

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func shellCommand(program string) *exec.Cmd {
	//nolint:gosec // G204: launching the debuggee is the purpose of this command
	return exec.Command("cmd", "/C", program)
}

// killProcessGroup kills a process on Windows.
// Windows doesn't have Unix-style process groups, so we just kill the process directly.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

// setProcAttr sets platform-specific process attributes.
// On Windows, we create a new process group so we can potentially signal child processes.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
