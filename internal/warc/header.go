package warc

import "strings"

// Field is a single header line with its original name casing.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Duplicate names are kept.
type Header []Field

// Get returns the value of the first field whose name equals name, ignoring
// case, or def when no field matches.
func (h Header) Get(name, def string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return def
}

// Find returns the value of the first field whose name contains substr,
// ignoring case, or def when no field matches. Find("lang") matches both
// Content-Language and WARC-Identified-Content-Language.
func (h Header) Find(substr, def string) string {
	needle := strings.ToLower(substr)
	for _, f := range h {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			return f.Value
		}
	}
	return def
}

// Lookup dispatches to Get or Find.
func (h Header) Lookup(name, def string, exact bool) string {
	if exact {
		return h.Get(name, def)
	}
	return h.Find(name, def)
}

func (h *Header) add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

func (h Header) appendToLast(cont string) bool {
	if len(h) == 0 {
		return false
	}
	last := &h[len(h)-1]
	last.Value = strings.TrimSpace(last.Value + " " + strings.TrimSpace(cont))
	return true
}
