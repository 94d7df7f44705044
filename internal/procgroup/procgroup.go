//go:build unix

// Package procgroup starts child processes in their own process group so the
// whole tree can be signalled at once.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// ErrKillFailed is returned when the group survives SIGKILL.
var ErrKillFailed = errors.New("process group did not exit after SIGKILL")

// Set configures the command to start in a new process group.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal sends sig to the command's process group.
// A nil or already exited process is not an error.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}

// Terminate sends SIGTERM, waits up to grace for done to close, then SIGKILLs
// the group and waits up to timeout more. done is closed by whoever owns cmd.Wait.
func Terminate(cmd *exec.Cmd, done <-chan struct{}, grace, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// A stopped group ignores SIGTERM until continued.
	_ = Signal(cmd, syscall.SIGCONT)
	if err := Signal(cmd, syscall.SIGTERM); err != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	if err := Signal(cmd, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrKillFailed
	}
}
