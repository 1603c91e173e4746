package core

import "strings"

// MessageText flattens a chat message content value into plain text. Content
// may be a string or an array of parts; only text parts contribute.
func MessageText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, item := range v {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				b.WriteString(text)
			} else if part["type"] == "text" {
				if text, ok := part["content"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String()
	}
	return ""
}
