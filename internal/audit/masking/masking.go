package masking

import "strings"

const maskRune = '*'

// MaskIdentifier keeps the last four digits of a device identifier for log lines.
func MaskIdentifier(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= 4 {
		return strings.Repeat(string(maskRune), len(trimmed))
	}
	return strings.Repeat(string(maskRune), len(trimmed)-4) + trimmed[len(trimmed)-4:]
}

// MaskEmail keeps the first character of the local part and the full domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskIdentifier(trimmed)
	}
	return trimmed[:1] + strings.Repeat(string(maskRune), 3) + trimmed[at:]
}
