package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		attrs []string
		want  map[string]string
	}{
		{
			name:  "html lang",
			input: `<html lang="en">`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": "en"},
		},
		{
			name:  "lang and dir",
			input: `<!DOCTYPE html><html dir="rtl" lang="ar-EG"><head>`,
			attrs: []string{"lang", "dir"},
			want:  map[string]string{"lang": "ar-EG", "dir": "rtl"},
		},
		{
			name:  "missing attribute uses default",
			input: `<html><head><title>x</title>`,
			attrs: []string{"lang", "dir"},
			want:  map[string]string{"lang": "NA", "dir": "NA"},
		},
		{
			name:  "namespaced lang only",
			input: `<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="fr">`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": ""},
		},
		{
			name:  "xhtml namespaced lang before plain lang",
			input: `<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en" dir="ltr">`,
			attrs: []string{"lang", "dir"},
			want:  map[string]string{"lang": "en", "dir": "ltr"},
		},
		{
			name:  "data attribute before lang",
			input: `<html data-lang="x" lang="de">`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": "de"},
		},
		{
			name:  "literal lang buffer",
			input: `<html lang="lang">`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": ""},
		},
		{
			name:  "stops at template delimiter",
			input: `<html lang="{{ locale }}">`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": ""},
		},
		{
			name:  "stops at dot",
			input: `<html lang="en.US">`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": "en"},
		},
		{
			name:  "truncated prefix keeps partial value",
			input: `<html lang="pt-B`,
			attrs: []string{"lang"},
			want:  map[string]string{"lang": "pt-B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Extract([]byte(tt.input), "utf-8", tt.attrs, "NA")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractFirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	got := Extract([]byte(`<html lang="de"><div lang="en">`), "utf-8", []string{"lang"}, "")
	assert.Equal(t, "de", got["lang"])
}

func TestDecodeReplacesInvalidBytes(t *testing.T) {
	t.Parallel()

	out := Decode([]byte{'a', 0xff, 'b'}, "utf-8")
	assert.Equal(t, "a�b", out)
}

func TestDecodeLatin1(t *testing.T) {
	t.Parallel()

	out := Decode([]byte{'c', 'a', 'f', 0xe9}, "iso-8859-1")
	assert.Equal(t, "café", out)
}

func TestDecodeUnknownCharsetFallsBackToUTF8(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hello", Decode([]byte("hello"), "x-not-a-charset"))
	assert.Equal(t, "hello", Decode([]byte("hello"), ""))
}
