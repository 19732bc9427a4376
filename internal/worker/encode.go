// SPDX-License-Identifier: MIT

package worker

import "strings"

// encodeArgsFor maps the output extension to final encode codec args. The
// server always answers in the upload's own container.
func encodeArgsFor(ext string) []string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "wav":
		return []string{"-c:a", "pcm_s16le"}
	case "flac":
		return []string{"-c:a", "flac"}
	case "ogg", "oga":
		return []string{"-c:a", "libvorbis", "-q:a", "6"}
	case "opus":
		return []string{"-c:a", "libopus", "-b:a", "128k"}
	case "m4a", "aac", "mp4":
		return []string{"-c:a", "aac", "-b:a", "192k"}
	case "webm":
		return []string{"-c:a", "libopus", "-b:a", "128k"}
	case "wma":
		return []string{"-c:a", "wmav2", "-b:a", "192k"}
	default: // mp3 and anything unrecognized
		return []string{"-c:a", "libmp3lame", "-q:a", "2"}
	}
}
