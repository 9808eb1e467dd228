// Package filename builds output file names that are safe on common filesystems.
package filename

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxLength is the longest name ForJob produces, in characters
	MaxLength = 200
	// MaxBytes keeps multibyte titles under the usual 255 byte name limit
	MaxBytes = 240

	minTitleLength = 20
	maxExtLength   = 10
	idPrefixLength = 8
	ellipsis       = "..."
	fallbackTitle  = "video"
)

// ASCII punctuation kept as is; everything else outside letters, digits,
// marks and non-ASCII punctuation or symbols becomes '_'
const allowedASCII = " -_.,;!'&+=#@~%$()[]{}"

// sanitize trims s, maps it onto the allowed character set and truncates the
// result to maxRunes characters, ending in "..." when cut.
func sanitize(s string, maxRunes, maxBytes int) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return '_'
	}, s)
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ".")

	if s == "" {
		return fallbackTitle
	}
	return truncate(s, maxRunes, maxBytes)
}

// Base returns "<title>-<id prefix>" with room left for an extension
func Base(jobID, title string) string {
	suffix := shortID(jobID)
	available := MaxLength - utf8.RuneCountInString(suffix) - 1 - maxExtLength - 1
	if available < minTitleLength {
		available = minTitleLength
	}

	byteBudget := MaxBytes - len(suffix) - 1 - maxExtLength - 1
	safeTitle := sanitize(title, available, byteBudget)

	if suffix == "" {
		return safeTitle
	}
	return safeTitle + "-" + suffix
}

// ForJob returns the full file name for a job's output
func ForJob(jobID, title, ext string) string {
	ext = cleanExt(ext)
	if ext == "" {
		return Base(jobID, title)
	}
	return Base(jobID, title) + "." + ext
}

// Within reports whether path is dir itself or lies beneath it. Both are
// cleaned first; a relative path is never within an absolute dir.
func Within(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// EscapeTemplate escapes a literal name for use inside an output template
func EscapeTemplate(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func allowed(r rune) bool {
	if r < utf8.RuneSelf {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(allowedASCII, r)
	}
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		return true
	case unicode.IsPunct(r), unicode.IsSymbol(r):
		return true
	}
	return false
}

func shortID(id string) string {
	id = strings.Map(func(r rune) rune {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return -1
	}, id)
	if len(id) > idPrefixLength {
		id = id[:idPrefixLength]
	}
	return id
}

func cleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	ext = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
	if len(ext) > maxExtLength {
		ext = ext[:maxExtLength]
	}
	return ext
}

func truncate(s string, maxRunes, maxBytes int) string {
	if utf8.RuneCountInString(s) <= maxRunes && len(s) <= maxBytes {
		return s
	}

	keepRunes := maxRunes - len(ellipsis)
	keepBytes := maxBytes - len(ellipsis)
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n >= keepRunes || b.Len()+utf8.RuneLen(r) > keepBytes {
			break
		}
		b.WriteRune(r)
		n++
	}
	out := strings.TrimRightFunc(b.String(), unicode.IsSpace)
	return out + ellipsis
}
