package metadata

import (
	"strings"

	"toolproxy/internal/core"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// ToolCallMarker terminates every template served to clients so the
	// generation format always exposes a tool-call region.
	ToolCallMarker = core.ToolCallMarker

	// DefaultTemplate is installed when a model has no template at all.
	DefaultTemplate = "{{system}}\n{{user}}\n{{assistant}} " + ToolCallMarker

	assistantSlot = "{{assistant}}"
)

// PatchTemplate makes tmpl end with ToolCallMarker. Already patched templates
// are returned unchanged.
func PatchTemplate(tmpl string) string {
	if tmpl == "" {
		return DefaultTemplate
	}
	if strings.HasSuffix(strings.TrimSpace(tmpl), ToolCallMarker) {
		return tmpl
	}

	lines := strings.Split(tmpl, "\n")
	last := lines[len(lines)-1]
	if strings.Contains(last, assistantSlot) {
		if strings.HasSuffix(last, " ") {
			lines[len(lines)-1] = last + ToolCallMarker
		} else {
			lines[len(lines)-1] = last + " " + ToolCallMarker
		}
		return strings.Join(lines, "\n")
	}
	return strings.TrimSpace(tmpl) + " " + ToolCallMarker
}

// PatchShowBody rewrites the template field of a native /api/show body.
// Every other field is left byte-for-byte intact.
func PatchShowBody(body []byte) ([]byte, error) {
	current := gjson.GetBytes(body, "template")
	tmpl := ""
	if current.Type == gjson.String {
		tmpl = current.String()
	}

	patched := PatchTemplate(tmpl)
	if current.Type == gjson.String && patched == tmpl {
		return body, nil
	}
	return sjson.SetBytes(body, "template", patched)
}
