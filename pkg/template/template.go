// Package template renders "$name" style templates, the format used by the
// Doxyfile, config.h, desktop entry and pkg-config templates.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`(?i)\$(?:(\$)|([_a-z][_a-z0-9]*)|\{([_a-z][_a-z0-9]*)\}|())`)

// Substitute replaces $name and ${name} with values from data. "$$" is an
// escaped "$". A placeholder without value or a "$" which starts no
// placeholder is an error.
func Substitute(text string, data map[string]string) (string, error) {
	var b strings.Builder
	last := 0
	for _, m := range placeholder.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(text[last:m[0]])
		last = m[1]
		switch {
		case m[2] != -1:
			b.WriteByte('$')
		case m[4] != -1, m[6] != -1:
			var name string
			if m[4] != -1 {
				name = text[m[4]:m[5]]
			} else {
				name = text[m[6]:m[7]]
			}
			value, ok := data[name]
			if !ok {
				return "", fmt.Errorf("no value for placeholder '%s' at %s", name, position(text, m[0]))
			}
			b.WriteString(value)
		default:
			return "", fmt.Errorf("invalid placeholder at %s", position(text, m[0]))
		}
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

func position(text string, offset int) string {
	lines := strings.Split(text[:offset], "\n")
	return fmt.Sprintf("line %d, col %d", len(lines), len(lines[len(lines)-1])+1)
}

// Write renders the template at source into destination, creating the
// destination directory if needed.
func Write(destination, source string, data map[string]string) error {
	destination, err := filepath.Abs(destination)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %v", destination, err)
	}
	text, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %v", source, err)
	}
	rendered, err := Substitute(string(text), data)
	if err != nil {
		return fmt.Errorf("failed to render template %s: %v", source, err)
	}
	return os.WriteFile(destination, []byte(rendered), 0644)
}
