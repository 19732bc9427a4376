// SPDX-License-Identifier: MIT

//go:build !windows

package admission

import "golang.org/x/sys/unix"

// availableBytes reports the space a non-root caller can still write on
// the filesystem holding path.
func availableBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
