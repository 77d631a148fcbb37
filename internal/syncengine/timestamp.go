package syncengine

import (
	"strings"
	"time"
)

// parseCloudModified parses a cloud modified timestamp. The cloud API
// omits the zone when it means UTC, so a bare "Z" is appended when no
// zone offset is present. Returns ok=false for an empty or unparsable
// string.
func parseCloudModified(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	if !hasZoneSuffix(s) {
		s += "Z"
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// hasZoneSuffix reports whether s already carries a UTC-ISO-8601 zone
// marker: a trailing "Z", or a "+HH:MM"/"-HH:MM" offset after the time
// portion.
func hasZoneSuffix(s string) bool {
	if strings.HasSuffix(s, "Z") {
		return true
	}

	// Look for a zone offset after the "T" time separator only, so a
	// date like "2024-01-02" is not mistaken for a "-02" offset.
	idx := strings.IndexByte(s, 'T')
	if idx < 0 {
		return false
	}

	rest := s[idx+1:]

	return strings.ContainsAny(rest, "+-")
}

// cloudNewerThanLocal reports whether the cloud's modified timestamp is
// strictly later than localMtime. An invalid or missing cloud timestamp
// is never considered newer.
func cloudNewerThanLocal(cloudModified string, localMtime time.Time) bool {
	t, ok := parseCloudModified(cloudModified)
	if !ok {
		return false
	}

	return t.After(localMtime)
}

// localNewerThanCloud reports whether the local file should win over the
// cloud copy: true if the local mtime is strictly later than the cloud's,
// or if the cloud timestamp is invalid or missing (local always wins
// against an unknown cloud time).
func localNewerThanCloud(localMtime time.Time, cloudModified string) bool {
	t, ok := parseCloudModified(cloudModified)
	if !ok {
		return true
	}

	return localMtime.After(t)
}
