package template

import (
	"fmt"
	"strings"
	"time"
)

var dateTokens = []string{"yyyy", "fff", "yy", "MM", "dd", "HH", "mm", "ss"}

// formatDate renders value using yyyy MM dd HH mm ss fff tokens. Other
// characters are copied as-is.
func formatDate(value time.Time, layout string) string {
	var builder strings.Builder
	for i := 0; i < len(layout); {
		token := ""
		for _, candidate := range dateTokens {
			if strings.HasPrefix(layout[i:], candidate) {
				token = candidate
				break
			}
		}
		if token == "" {
			builder.WriteByte(layout[i])
			i++
			continue
		}
		builder.WriteString(dateToken(value, token))
		i += len(token)
	}
	return builder.String()
}

func dateToken(value time.Time, token string) string {
	switch token {
	case "yyyy":
		return fmt.Sprintf("%04d", value.Year())
	case "yy":
		return fmt.Sprintf("%02d", value.Year()%100)
	case "MM":
		return fmt.Sprintf("%02d", int(value.Month()))
	case "dd":
		return fmt.Sprintf("%02d", value.Day())
	case "HH":
		return fmt.Sprintf("%02d", value.Hour())
	case "mm":
		return fmt.Sprintf("%02d", value.Minute())
	case "ss":
		return fmt.Sprintf("%02d", value.Second())
	case "fff":
		return fmt.Sprintf("%03d", value.Nanosecond()/int(time.Millisecond))
	}
	return token
}
