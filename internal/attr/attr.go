// Package attr pulls attribute values out of raw markup without building a parse tree.
//
// Extraction is a two-phase contract: the buffer is first decoded with the
// declared charset (undecodable sequences become U+FFFD), then each requested
// attribute is located by its first literal `name="` occurrence and its value is
// read forward until a stop character. The scan is deliberately not a parser; it
// trades accuracy on malformed markup for a cost bounded by the input size, so
// callers should hand it a fixed-size prefix of a document rather than the body.
package attr

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultPrefixBytes is the document prefix inspected per record.
const DefaultPrefixBytes = 200

// stopChars terminate an attribute value.
const stopChars = "\"\r\n{}$<>=[].,"

// overlapToken is the value a namespaced attribute (xml:lang) can leave behind.
const overlapToken = "lang"

// Decode converts raw bytes in the given charset to a UTF-8 string. Unknown or
// empty charsets are treated as UTF-8.
func Decode(raw []byte, charset string) string {
	dec := lookup(charset).NewDecoder()
	out, err := dec.Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	}
	return string(out)
}

func lookup(charset string) encoding.Encoding {
	charset = strings.TrimSpace(charset)
	if charset == "" {
		return unicode.UTF8
	}
	enc, err := htmlindex.Get(charset)
	if err != nil || enc == nil {
		return unicode.UTF8
	}
	return enc
}

// Extract returns a value for every requested name. Names absent from the
// document map to def; a match that resolves to the overlap token maps to "",
// as does a name found only as the tail of a longer attribute name.
func Extract(raw []byte, charset string, names []string, def string) map[string]string {
	text := Decode(raw, charset)
	out := make(map[string]string, len(names))
	for _, name := range names {
		out[name] = value(text, name, def)
	}
	return out
}

func value(text, name, def string) string {
	needle := name + `="`
	idx := strings.Index(text, needle)
	if idx < 0 {
		return def
	}
	// Skip hits that are the tail of a longer name such as xml:lang.
	for idx > 0 && isNameByte(text[idx-1]) {
		next := strings.Index(text[idx+1:], needle)
		if next < 0 {
			return ""
		}
		idx += next + 1
	}

	rest := text[idx+len(needle):]
	end := strings.IndexAny(rest, stopChars)
	if end < 0 {
		end = len(rest)
	}
	buf := rest[:end]
	if buf == overlapToken {
		return ""
	}
	return buf
}

func isNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == ':', b == '-', b == '_':
		return true
	}
	return false
}
