// Package format renders reply templates with conditional segments.
//
// A template is plain text with {field} and {field[...]} directives. The
// bracketed form renders its content only when the field has a non-empty
// value, substituting the value for the first {} placeholder inside:
//
//	Format("{name[hello, {}!]}", nil, map[string]string{"name": "x"})
//	  -> "hello, x!"
//	Format("{name[hello, {}!]}", nil, map[string]string{})
//	  -> ""
//
// Field names consisting of digits index into the positional arguments.
// This is the single shared implementation of the mini-language used by the
// tracking, flight, CR-Express and EMU reply templates.
package format

import (
	"strconv"
	"strings"
)

// Format renders tmpl with positional and named values. Unknown fields
// resolve to the empty string, which suppresses their bracketed segments.
func Format(tmpl string, pos []string, named map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		// Literal "{}" outside a directive is kept as-is.
		if i+1 < len(tmpl) && tmpl[i+1] == '}' {
			b.WriteString("{}")
			i += 2
			continue
		}
		name, clause, next, ok := parseDirective(tmpl, i)
		if !ok {
			b.WriteByte(c)
			i++
			continue
		}
		value := lookup(name, pos, named)
		if clause == "" {
			b.WriteString(value)
		} else if value != "" {
			// Clauses may nest further directives; expand those first,
			// then fill the {} placeholder with the guarding value.
			expanded := Format(clause, pos, named)
			b.WriteString(strings.Replace(expanded, "{}", value, 1))
		}
		i = next
	}
	return b.String()
}

// parseDirective reads a {field} or {field[clause]} directive starting at
// tmpl[start] == '{'. It returns the field name, the optional clause, and
// the index just past the closing brace.
func parseDirective(tmpl string, start int) (name, clause string, next int, ok bool) {
	i := start + 1
	for i < len(tmpl) && tmpl[i] != '}' && tmpl[i] != '[' && tmpl[i] != '{' {
		i++
	}
	if i >= len(tmpl) || tmpl[i] == '{' {
		return "", "", 0, false
	}
	name = tmpl[start+1 : i]
	if tmpl[i] == '}' {
		return name, "", i + 1, true
	}

	// Bracketed clause; the content may contain one {} placeholder.
	depth := 1
	j := i + 1
	for j < len(tmpl) && depth > 0 {
		switch tmpl[j] {
		case '[':
			depth++
		case ']':
			depth--
		}
		j++
	}
	if depth != 0 || j >= len(tmpl) || tmpl[j] != '}' {
		return "", "", 0, false
	}
	return name, tmpl[i+1 : j-1], j + 1, true
}

func lookup(name string, pos []string, named map[string]string) string {
	if idx, err := strconv.Atoi(name); err == nil {
		if idx >= 0 && idx < len(pos) {
			return pos[idx]
		}
		return ""
	}
	return named[name]
}

// StripLines joins the lines of a multi-line template, trimming the
// indentation whitespace of each line. Reply templates are written as
// indented raw strings; this collapses them to a single message.
func StripLines(s string) string {
	lines := strings.Split(s, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "")
}
