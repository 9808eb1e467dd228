package ytdlp

import (
	"regexp"
	"strings"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

var (
	authPatterns = []string{
		"sign in to confirm",
		"login required",
		"log in",
		"cookies",
		"members-only",
		"private video",
		"http error 401",
		"http error 403",
		"age-restricted",
	}
	unsupportedPatterns = []string{
		"unsupported url",
		"no video formats found",
		"requested format is not available",
		"is not a valid url",
	}
	networkPatterns = []string{
		"unable to download",
		"timed out",
		"connection reset",
		"connection refused",
		"network is unreachable",
		"getaddrinfo failed",
		"name or service not known",
		"temporary failure in name resolution",
		"ssl",
		"http error 429",
	}
	filesystemPatterns = []string{
		"no space left on device",
		"permission denied",
		"read-only file system",
		"file name too long",
	}

	serverError = regexp.MustCompile(`http error 5\d\d`)
)

// classify maps yt-dlp stderr to an error kind. Only the last ERROR line is
// matched when there is one, so warnings never decide the kind.
func classify(stderr string) domain.ErrorKind {
	if line, ok := lastErrorLine(stderr); ok {
		stderr = line
	}
	s := strings.ToLower(stderr)

	switch {
	case containsAny(s, filesystemPatterns):
		return domain.ErrorKindFilesystem
	case containsAny(s, unsupportedPatterns):
		return domain.ErrorKindUnsupported
	case containsAny(s, authPatterns):
		return domain.ErrorKindAuthRequired
	case containsAny(s, networkPatterns), serverError.MatchString(s):
		return domain.ErrorKindNetwork
	default:
		return domain.ErrorKindUnknown
	}
}

// errorMessage returns the last ERROR line of stderr, or its last line
func errorMessage(stderr string) string {
	if line, ok := lastErrorLine(stderr); ok {
		return line
	}
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func lastErrorLine(stderr string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if rest, ok := strings.CutPrefix(line, "ERROR:"); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
