package resource

import (
	"path/filepath"
	"strings"
)

// HasInvalidChars reports whether path holds a character no file name may
// contain. Such paths name in-memory or generated resources.
func HasInvalidChars(path string) bool {
	return strings.IndexFunc(path, func(r rune) bool {
		switch r {
		case '"', '<', '>', '|':
			return true
		}
		return r < 0x20
	}) >= 0
}

// OverridePath maps a logical resource path below root. It reports false for
// paths that could name a file outside root.
func OverridePath(root, logical string) (string, bool) {
	if logical == "" || HasInvalidChars(logical) {
		return "", false
	}
	rel := filepath.FromSlash(logical)
	if !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(root, rel), true
}
