// SPDX-License-Identifier: MIT

package api

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

const maxFilenameBase = 200

// downloadFilename derives the attachment name from the original upload:
// extension dropped, unsafe characters replaced, leading dots stripped,
// base truncated, then "-normalized" plus the output extension.
func downloadFilename(original, outputExt string) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		base = "audio"
	}
	if len(base) > maxFilenameBase {
		base = base[:maxFilenameBase]
	}
	return base + "-normalized" + outputExt
}
