package cloudpath

import (
	"path/filepath"
	"strings"
)

// NormalizeRoot cleans and absolutizes a local sync root path: absolute,
// cleaned, with no trailing separator (except for the filesystem root
// itself). Returns an error if the path cannot be made absolute.
func NormalizeRoot(local string) (string, error) {
	abs, err := filepath.Abs(local)
	if err != nil {
		return "", err
	}

	abs = filepath.Clean(abs)
	for len(abs) > 1 && strings.HasSuffix(abs, string(filepath.Separator)) {
		abs = abs[:len(abs)-1]
	}

	return abs, nil
}

// ToRelative computes a slash-separated path for abs relative to root.
// Returns ("", false) if abs does not lie under root.
func ToRelative(abs, root string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}

	return NormalizeRelative(rel), true
}

// NormalizeRelative trims leading slashes and whitespace from a relative
// path and converts OS separators to "/", matching the index's on-disk
// convention (architecture §4.A/§6: "relative paths never begin with '/',
// use '/' as separator ... regardless of host OS").
func NormalizeRelative(rel string) string {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	for strings.HasPrefix(rel, "/") {
		rel = rel[1:]
	}

	return rel
}
