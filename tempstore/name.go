package tempstore

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// maxPrefixLen caps the URL-derived part of a file name.
	maxPrefixLen = 48
	// randomLen is the number of hex characters taken from a fresh UUID.
	randomLen = 12
	// fallbackPrefix names files whose URL sanitizes to nothing.
	fallbackPrefix = "quill"
	// DefaultExtension is used when a request carries no usable extension.
	DefaultExtension = "txt"
)

// SanitizeURL turns a page URL into a short, filesystem-safe name prefix.
// The scheme is dropped, every run of characters outside [A-Za-z0-9._-]
// becomes a single underscore, and the result is trimmed and capped.
func SanitizeURL(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range url {
		if isNameChar(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	prefix := strings.Trim(b.String(), "_.-")
	if len(prefix) > maxPrefixLen {
		prefix = strings.TrimRight(prefix[:maxPrefixLen], "_.-")
	}
	if prefix == "" {
		return fallbackPrefix
	}
	return prefix
}

// SanitizeExtension strips leading dots and anything unsafe from an
// extension hint. An empty result means DefaultExtension.
func SanitizeExtension(ext string) string {
	var b strings.Builder
	for _, r := range strings.TrimLeft(ext, ".") {
		if isNameChar(r) && r != '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return DefaultExtension
	}
	return b.String()
}

func isNameChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// newName builds <prefix>-<random>.<ext>. prefix and ext must already be
// sanitized.
func newName(prefix, ext string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:randomLen]
	return prefix + "-" + random + "." + ext
}
