//go:build unix

package acp

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	sigTerm = unix.SIGTERM
	sigKill = unix.SIGKILL
)

// configureProcessGroup puts the agent in its own process group so the whole
// tree can be killed at once.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcess ignores processes that are already gone.
func signalProcess(pid int32, sig unix.Signal) {
	_ = unix.Kill(int(pid), sig)
}

func killProcessGroup(pgid int) {
	_ = unix.Kill(-pgid, unix.SIGKILL)
}
