// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"time"
)

func set(cmd *exec.Cmd) {
	// No process groups on Windows in this context.
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	// Windows has no reliable graceful signal; kill after the grace period.
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		_ = proc.Kill()
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrKillFailed
	}
}
