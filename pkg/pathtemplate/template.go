// Package pathtemplate renders output-directory templates like
// "{type}/{creator}/{name}" against model metadata.
package pathtemplate

import (
	"regexp"
	"strings"
)

const defaultValue = "unknown"

var (
	placeholder  = regexp.MustCompile(`\{([^{}]+)\}`)
	invalidChars = regexp.MustCompile(`[<>:"\\|?*]`)
	repeats      = regexp.MustCompile(`_{2,}`)
)

// Render substitutes {var} placeholders with values from vars, falling back
// to "unknown" for missing keys, and sanitizes the result into a safe
// relative path.
func Render(template string, vars map[string]string) string {
	rendered := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok && v != "" {
			return v
		}
		return defaultValue
	})
	return Sanitize(rendered)
}

// Sanitize strips characters that are unsafe in path components, collapses
// runs of replacements, and caps each component at 255 characters.
func Sanitize(p string) string {
	p = invalidChars.ReplaceAllString(p, "_")
	p = repeats.ReplaceAllString(p, "_")
	p = strings.Trim(p, " /")

	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		if len(part) > 255 {
			part = part[:252] + "..."
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
