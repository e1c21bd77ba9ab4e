package worker

import (
	"fmt"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{([_a-zA-Z][_a-zA-Z0-9]*)\}`)

// ResolveSubject substitutes every {field} placeholder in template with
// the matching value from fields. An unresolved placeholder is an error:
// publishing to a half-resolved subject would strand records on a
// subject nobody consumes.
func ResolveSubject(template string, fields map[string]any) (string, error) {
	var missing string

	resolved := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := fields[name]
		if !ok || value == nil {
			if missing == "" {
				missing = name
			}
			return match
		}
		return fmt.Sprintf("%v", value)
	})

	if missing != "" {
		return "", fmt.Errorf("subject template %q: field %q unresolved", template, missing)
	}
	return resolved, nil
}
