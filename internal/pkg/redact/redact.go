// Package redact masks personal data before it reaches the logs.
package redact

import "strings"

// Email keeps the first two characters of the local part and the domain.
// Anything that does not look like an address becomes "***".
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}
	r := []rune(local)
	if len(r) > 2 {
		local = string(r[:2]) + "***"
	} else {
		local = "***"
	}
	return local + "@" + domain
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
