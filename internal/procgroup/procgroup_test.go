//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTerminateKillsWholeGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 100 & sleep 100")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	require.Equal(t, pid, pgid, "child should lead its own group")

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	require.NoError(t, Terminate(cmd, done, 200*time.Millisecond, time.Second))
	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "group should be gone")
}

func TestStopAndContinue(t *testing.T) {
	cmd := exec.Command("sleep", "100")
	Set(cmd)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = Signal(cmd, syscall.SIGKILL)
		_ = cmd.Wait()
	})

	require.NoError(t, Signal(cmd, syscall.SIGSTOP))
	require.NoError(t, Signal(cmd, syscall.SIGCONT))
}

func TestSignalNilCommand(t *testing.T) {
	require.NoError(t, Signal(nil, syscall.SIGTERM))
	require.NoError(t, Signal(&exec.Cmd{}, syscall.SIGTERM))
}
