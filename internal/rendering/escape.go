package rendering

import "strings"

// EscapeJSX escapes text placed between JSX tags.
// Special characters: { } < > &
func EscapeJSX(text string) string {
	if text == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(text) + 16)

	for _, r := range text {
		switch r {
		case '{':
			result.WriteString(`{"{"}`)
		case '}':
			result.WriteString(`{"}"}`)
		case '<':
			result.WriteString("&lt;")
		case '>':
			result.WriteString("&gt;")
		case '&':
			result.WriteString("&amp;")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}

// EscapeMarkdown strips line breaks and escapes characters that would turn
// inline text into markup.
func EscapeMarkdown(text string) string {
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)

	var result strings.Builder
	result.Grow(len(text))
	for _, r := range text {
		switch r {
		case '\\', '`', '*', '_', '[', ']', '<', '>':
			result.WriteByte('\\')
		}
		result.WriteRune(r)
	}
	return result.String()
}
