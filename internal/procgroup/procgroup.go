// SPDX-License-Identifier: MIT

// Package procgroup places spawned toolchain processes into their own
// process group so a cancelled job can reap the whole tree, including any
// children ffmpeg forks for itself.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// ErrKillFailed reports that a process group survived SIGKILL for the
// duration of the reap timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group.
// Mandatory for KillGroup to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group: SIGTERM, a grace period,
// then SIGKILL. The process must have been spawned with Set.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
