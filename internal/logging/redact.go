package logging

import "regexp"

// Placeholder replaces secret material in emitted log lines.
const Placeholder = "[REDACTED]"

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	// Covers key/value dumps as well as query strings such as
	// gettoken?corpid=...&corpsecret=... and user/get?access_token=...
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:corpsecret|secret|access[_-]?token|refresh[_-]?token|api[_-]?key|password|cookie)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;&]+)((?:"|')?)`,
	)
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
)

func sanitizeLogLine(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllStringFunc(line, func(match string) string {
		submatches := authorizationBearerPattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + submatches[2] + Placeholder
	})

	sanitized = sensitiveKeyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		submatches := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + Placeholder + submatches[3]
	})

	return bearerTokenPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		parts := bearerTokenPattern.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		return parts[1] + Placeholder
	})
}

// Redact applies the log sanitizer to an arbitrary string such as a request URL.
func Redact(value string) string {
	return sanitizeLogLine(value)
}
