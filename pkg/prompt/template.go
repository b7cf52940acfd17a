// Package prompt implements the stage prompt templates: plain text with
// {name} placeholders, where {{ and }} stand for literal braces.
package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Template is a parsed prompt template.
type Template struct {
	name     string
	raw      string
	segments []segment
	names    []string
}

type segment struct {
	text        string
	placeholder bool
}

// MissingValueError reports placeholders that had no value at render time.
type MissingValueError struct {
	Template string
	Names    []string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("template %s: no value for %s", e.Template, strings.Join(e.Names, ", "))
}

// MismatchError reports a template whose placeholders differ from the inputs
// its caller supplies.
type MismatchError struct {
	Template string
	Missing  []string
	Unknown  []string
}

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing placeholders "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown placeholders "+strings.Join(e.Unknown, ", "))
	}
	return fmt.Sprintf("template %s: %s", e.Template, strings.Join(parts, "; "))
}

// Parse parses raw into a Template. name is used in error messages.
func Parse(name, raw string) (*Template, error) {
	t := &Template{name: name, raw: raw}
	seen := make(map[string]struct{})

	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			t.segments = append(t.segments, segment{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				text.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(raw[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("template %s: unclosed '{' at offset %d", name, i)
			}
			field := raw[i+1 : i+1+end]
			if !validName(field) {
				return nil, fmt.Errorf("template %s: invalid placeholder %q at offset %d", name, field, i)
			}
			flush()
			t.segments = append(t.segments, segment{text: field, placeholder: true})
			if _, ok := seen[field]; !ok {
				seen[field] = struct{}{}
				t.names = append(t.names, field)
			}
			i += end + 1
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				text.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("template %s: single '}' at offset %d", name, i)
		default:
			text.WriteByte(c)
		}
	}
	flush()

	sort.Strings(t.names)
	return t, nil
}

// Name returns the template's name.
func (t *Template) Name() string {
	return t.name
}

// Raw returns the unparsed template text.
func (t *Template) Raw() string {
	return t.raw
}

// Placeholders returns the distinct placeholder names, sorted.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.names...)
}

// Expect checks that the template's placeholders are exactly inputs.
func (t *Template) Expect(inputs ...string) error {
	want := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		want[in] = struct{}{}
	}

	var missing, unknown []string
	for in := range want {
		if !t.has(in) {
			missing = append(missing, in)
		}
	}
	for _, name := range t.names {
		if _, ok := want[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	return &MismatchError{Template: t.name, Missing: missing, Unknown: unknown}
}

// Render substitutes values into the template. Every placeholder must have a
// value; extra values are ignored.
func (t *Template) Render(values map[string]string) (string, error) {
	var missing []string
	for _, name := range t.names {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &MissingValueError{Template: t.name, Names: missing}
	}

	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.placeholder {
			sb.WriteString(values[seg.text])
			continue
		}
		sb.WriteString(seg.text)
	}
	return sb.String(), nil
}

func (t *Template) has(name string) bool {
	i := sort.SearchStrings(t.names, name)
	return i < len(t.names) && t.names[i] == name
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
