package warc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind is the WARC-Type of a record.
type Kind string

// Record kinds consumed by the extraction pipelines. Other WARC types are
// surfaced with their literal value and rejected by the stock filters.
const (
	KindResponse   Kind = "response"
	KindConversion Kind = "conversion"
)

// Well-known header names.
const (
	HeaderType             = "WARC-Type"
	HeaderRecordID         = "WARC-Record-ID"
	HeaderTargetURI        = "WARC-Target-URI"
	HeaderRefersTo         = "WARC-Refers-To"
	HeaderIdentifiedLang   = "WARC-Identified-Content-Language"
	HeaderContentType      = "Content-Type"
	HeaderContentLength    = "Content-Length"
	HeaderContentLanguage  = "Content-Language"
	defaultCharset         = "utf-8"
	maxHTTPHeaderLineBytes = 64 << 10
)

// Record is one archive entry. It is only valid until the owning Reader's
// Next is called again.
type Record struct {
	Kind        Kind
	ID          string
	TargetURI   string
	Headers     Header
	HTTPHeaders Header
	HTTPStatus  int
	Length      int64

	body io.Reader
}

// ContentType returns the effective content type: the HTTP media type (lower
// case, parameters stripped) for response records and the archive-level
// Content-Type for everything else.
func (r *Record) ContentType() string {
	if r.Kind == KindResponse {
		return mediaType(r.HTTPHeaders.Get(HeaderContentType, ""))
	}
	return strings.TrimSpace(r.Headers.Get(HeaderContentType, ""))
}

// Charset returns the charset parameter of the HTTP Content-Type, or utf-8.
func (r *Record) Charset() string {
	ct := r.HTTPHeaders.Get(HeaderContentType, "")
	for _, param := range strings.Split(ct, ";")[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "charset") {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if val != "" {
			return strings.ToLower(val)
		}
	}
	return defaultCharset
}

// Body returns the payload stream. For response records the HTTP status line
// and headers have already been consumed.
func (r *Record) Body() io.Reader {
	return r.body
}

// ReadPrefix reads at most n bytes of the payload.
func (r *Record) ReadPrefix(n int) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r.body, int64(n)))
	if err != nil {
		return buf, fmt.Errorf("read record prefix: %w", err)
	}
	return buf, nil
}

// ReadAll reads the remaining payload.
func (r *Record) ReadAll() ([]byte, error) {
	buf, err := io.ReadAll(r.body)
	if err != nil {
		return buf, fmt.Errorf("read record body: %w", err)
	}
	return buf, nil
}

func mediaType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// parseHTTP consumes the HTTP status line and headers of a response block. A
// block that does not look like an HTTP message leaves the headers empty and
// returns the block unchanged as the body.
func (r *Record) parseHTTP(block *bufio.Reader) {
	r.body = block
	first, err := block.Peek(5)
	if err != nil || string(first) != "HTTP/" {
		return
	}
	status, err := readLine(block)
	if err != nil {
		return
	}
	if parts := strings.Fields(status); len(parts) >= 2 {
		if code, convErr := strconv.Atoi(parts[1]); convErr == nil {
			r.HTTPStatus = code
		}
	}
	var hdr Header
	for {
		line, err := readLine(block)
		if err != nil || line == "" {
			break
		}
		if len(line) > maxHTTPHeaderLineBytes {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			hdr.appendToLast(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		hdr.add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	r.HTTPHeaders = hdr
}
