package notification

import (
	"fmt"
	"strings"
)

// lineBreak separates queued messages inside a JSON string value.
const lineBreak = `\n`

// escapeJSON escapes value for use inside a JSON string literal: backslash,
// quote, slash and control characters.
func escapeJSON(value string) string {
	var builder strings.Builder
	builder.Grow(len(value))
	for _, r := range value {
		switch r {
		case '\\':
			builder.WriteString(`\\`)
		case '"':
			builder.WriteString(`\"`)
		case '/':
			builder.WriteString(`\/`)
		case '\b':
			builder.WriteString(`\b`)
		case '\f':
			builder.WriteString(`\f`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		default:
			if r < 0x20 {
				builder.WriteString(fmt.Sprintf(`\u%04x`, r))
				continue
			}
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
