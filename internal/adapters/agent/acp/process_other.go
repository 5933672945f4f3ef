//go:build !unix

package acp

import (
	"os"
	"os/exec"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

func configureProcessGroup(*exec.Cmd) {}

func signalProcess(pid int32, _ signal) {
	if proc, err := os.FindProcess(int(pid)); err == nil {
		_ = proc.Kill()
	}
}

func killProcessGroup(int) {}
