// Package cloudpath normalizes cloud paths and local-relative paths, the
// pure leaf of the sync engine (architecture §4.A). It performs no I/O and
// holds no state; its only dependency outside the standard library is
// golang.org/x/text for NFC normalization.
package cloudpath

import (
	"errors"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// diskPrefix is the "disk:"-prefixed form accepted as cloud path input.
const diskPrefix = "disk:"

// ErrInvalid is returned by functions that validate a cloud path string.
var ErrInvalid = errors.New("cloudpath: invalid cloud path")

// Cloud is a canonical cloud path: always begins with "/"; "/" denotes the
// root. The zero value is not a valid Cloud — use NormalizeCloud.
type Cloud string

// String returns the canonical path string.
func (c Cloud) String() string { return string(c) }

// NormalizeCloud canonicalizes a cloud path from any of its three accepted
// input forms: a bare name ("Photos"), a leading-slash path ("/Photos"),
// or a "disk:"-prefixed path ("disk:/Photos"). The prefix is stripped; a
// missing leading slash is added. Idempotent: normalizing an already
// normalized path returns it unchanged.
func NormalizeCloud(s string) Cloud {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, diskPrefix)

	if s == "" {
		return Cloud("/")
	}

	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}

	s = path.Clean(s)
	if s != "/" {
		s = strings.TrimRight(s, "/")
		if s == "" {
			s = "/"
		}
	}

	return Cloud(nfcNormalize(s))
}

// IsValidCloud reports whether s is a well-formed cloud path: non-empty,
// free of NUL/CR/LF/TAB, and — after normalization — either exactly "/"
// or not ending in "/".
func IsValidCloud(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		switch r {
		case 0, '\r', '\n', '\t':
			return false
		}
	}

	canon := NormalizeCloud(s)

	return canon == "/" || !strings.HasSuffix(string(canon), "/")
}

// JoinCloud joins a parent cloud path with a child name, inserting a "/"
// separator unless parent is the root (which already ends in "/" worth of
// meaning without one).
func JoinCloud(parent Cloud, name string) Cloud {
	p := string(parent)
	if p == "/" {
		return Cloud("/" + name)
	}

	return Cloud(p + "/" + name)
}

// ParentAndName splits a cloud path into its parent directory and final
// path segment. For the root, both are "/" and "" respectively.
func ParentAndName(p Cloud) (Cloud, string) {
	s := string(p)
	if s == "/" {
		return "/", ""
	}

	idx := strings.LastIndex(s, "/")
	if idx <= 0 {
		return "/", s[idx+1:]
	}

	return Cloud(s[:idx]), s[idx+1:]
}

// nfcNormalize applies Unicode NFC normalization so names that differ only
// by composition form (as can happen between the cloud API and a local
// filesystem) compare equal.
func nfcNormalize(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}

	return norm.NFC.String(s)
}
