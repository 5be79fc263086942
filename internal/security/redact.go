package security

import (
	"regexp"
	"strings"
)

// sensitivePatterns match credential-bearing fragments of free text such as
// gateway error bodies. Group 1 is kept, group 2 is masked.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:api[_-]?key|api[_-]?secret|access[_-]?token|refresh[_-]?token|feed[_-]?token|jwt[_-]?token|request[_-]?token|password|totp)["']?\s*[=:]\s*["']?)([^\s"',}]+)`),
	regexp.MustCompile(`(?i)(bearer\s+)([^\s"',}]+)`),
}

// jwtPattern matches bare JWTs, which SmartAPI uses for session tokens.
var jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

// Redact masks credentials found in s.
func Redact(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			m := p.FindStringSubmatch(match)
			return m[1] + MaskCredential(strings.TrimSpace(m[2]))
		})
	}
	return jwtPattern.ReplaceAllStringFunc(s, MaskCredential)
}

// RedactError returns err's message with credentials masked.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
