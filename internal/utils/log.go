package utils

import "strings"

// TruncateForLog trims s and cuts it to limit runes, appending "..." when
// cut. Prompt previews passed here are already redacted.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
