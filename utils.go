package qurl

import (
	"strconv"
	"strings"
	"time"
)

// DefaultTTL applies when an upload carries no TTL or a malformed one.
const DefaultTTL = 24 * time.Hour

// ParseTTL parses a client-supplied TTL string: an integer magnitude with
// a trailing unit of s, m, h or d. Anything malformed, including an
// unknown unit, falls back to DefaultTTL rather than failing the upload.
func ParseTTL(s string) time.Duration {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return DefaultTTL
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value <= 0 {
		return DefaultTTL
	}

	switch unit := s[len(s)-1]; unit {
	case 's', 'S':
		return time.Duration(value) * time.Second
	case 'm', 'M':
		return time.Duration(value) * time.Minute
	case 'h', 'H':
		return time.Duration(value) * time.Hour
	case 'd', 'D':
		return time.Duration(value) * 24 * time.Hour
	default:
		return DefaultTTL
	}
}

// ParseDownloads parses a client-supplied download budget. Malformed or
// non-positive values fall back to def.
func ParseDownloads(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}

	return n
}

// IsValidID validates an opaque entry or secret identifier: the hex and
// dash alphabet of a truncated UUID, between 8 and 36 characters. It
// also rejects anything that could collide with the store's reserved
// namespaces or escape a path segment.
func IsValidID(id string) bool {
	if len(id) < 8 || len(id) > 36 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

// IsValidName validates an uploader-supplied display name as a single
// path segment: no separators, no traversal, no control characters, not
// a metadata file name.
func IsValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if len(name) > 255 {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	if strings.HasSuffix(name, ".meta") {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
