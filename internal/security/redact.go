package security

import "regexp"

const redacted = "[REDACTED]"

// secretPatterns match credential shapes that backends sometimes echo back
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`),           // OpenAI, DeepSeek, Anthropic (sk-ant-)
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),         // Google API keys
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]{8,}`), // Authorization headers
	regexp.MustCompile(`(?i)(api[_-]?key["'=:\s]+)[A-Za-z0-9._\-]{8,}`),
}

// RedactSecrets masks anything that looks like a credential in s
func RedactSecrets(s string) string {
	for _, p := range secretPatterns {
		if p.NumSubexp() > 0 {
			s = p.ReplaceAllString(s, "${1}"+redacted)
			continue
		}
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}
