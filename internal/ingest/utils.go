package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipts-ingest/constants"
)

// AllowedExt checks if a file extension is one the watcher picks up.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// Locate maps a photo path under root to its submitter and group key. Two
// layouts are accepted: <root>/<user>/<photo> is a single-photo submission
// and <root>/<user>/<group>/<photo> groups every photo in that folder.
func Locate(root, path string) (user, group string, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts {
		if IsHidden(p) {
			return "", "", false
		}
	}
	if !AllowedExt(filepath.Ext(parts[len(parts)-1])) {
		return "", "", false
	}
	switch len(parts) {
	case 2:
		return parts[0], "", true
	case 3:
		return parts[0], parts[0] + "/" + parts[1], true
	}
	return "", "", false
}
