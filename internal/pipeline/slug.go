package pipeline

import "strings"

// Slug normalizes a project name into a DNS-safe label: lowercase,
// spaces to hyphens, everything outside [a-z0-9-] stripped.
func Slug(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
