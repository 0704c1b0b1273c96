package verify

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultMinCodeLen and DefaultMaxCodeLen bound the token pattern when no
	// explicit bounds are configured.
	DefaultMinCodeLen = 3
	DefaultMaxCodeLen = 7
)

// Extractor scans message bodies for a verification code: a line consisting
// entirely of uppercase letters and digits within the configured length
// bounds. Only full-line matches count, so order numbers or tracking ids
// embedded in prose are not picked up.
type Extractor struct {
	minLen  int
	maxLen  int
	pattern *regexp.Regexp
}

// NewExtractor builds an extractor with the given length bounds. Out-of-range
// bounds fall back to the defaults.
func NewExtractor(minLen, maxLen int) Extractor {
	if minLen <= 0 {
		minLen = DefaultMinCodeLen
	}
	if maxLen < minLen {
		maxLen = DefaultMaxCodeLen
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	return Extractor{
		minLen:  minLen,
		maxLen:  maxLen,
		pattern: regexp.MustCompile(fmt.Sprintf(`^[A-Z0-9]{%d,%d}$`, minLen, maxLen)),
	}
}

// Extract returns the first line of body that is exactly a code token, with
// surrounding whitespace trimmed per line. The second return reports whether
// a token was found.
func (e Extractor) Extract(body string) (string, bool) {
	if e.pattern == nil {
		e = NewExtractor(0, 0)
	}
	for _, line := range strings.Split(body, "\n") {
		candidate := strings.TrimSpace(line)
		if candidate == "" {
			continue
		}
		if e.pattern.MatchString(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// AddressedTo reports whether body is addressed to username: the body must
// begin with "{username}," exactly, case-sensitive, comma included. Shared
// mailboxes rely on this prefix to route codes to the right session.
func AddressedTo(body, username string) bool {
	if username == "" {
		return false
	}
	return strings.HasPrefix(body, username+",")
}
