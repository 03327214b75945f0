// Package template renders notification templates by substituting
// {{variable}} placeholders with execution context data.
package template

import (
	"fmt"
	"strings"
)

// Render substitutes {{path}} placeholders in tpl with values from data.
// Paths are dot-separated and navigate nested maps. Unknown or unresolvable
// placeholders render as the empty string; rendering never fails.
func Render(tpl string, data map[string]any) string {
	var b strings.Builder
	b.Grow(len(tpl))

	for {
		open := strings.Index(tpl, "{{")
		if open < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		end := strings.Index(tpl[open:], "}}")
		if end < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		end += open

		b.WriteString(tpl[:open])
		path := strings.TrimSpace(tpl[open+2 : end])
		b.WriteString(lookup(data, path))
		tpl = tpl[end+2:]
	}
}

// lookup resolves a dot-separated path through nested maps. Anything that
// does not resolve to a scalar renders as empty.
func lookup(data map[string]any, path string) string {
	if path == "" {
		return ""
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = m[part]
	}
	if current == nil {
		return ""
	}
	switch current.(type) {
	case map[string]any, []any:
		return ""
	}
	return fmt.Sprint(current)
}
