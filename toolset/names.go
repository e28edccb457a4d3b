package toolset

import "strings"

const maxNameLength = 64

// SanitizeName maps a tool name onto the character set every provider accepts:
// letters, digits, underscore and dash, at most 64 characters.
func SanitizeName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	result := sb.String()
	if len(result) > maxNameLength {
		result = result[:maxNameLength]
	}
	if result == "" {
		return "tool"
	}
	return result
}
