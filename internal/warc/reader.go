// Package warc scans WARC and WET archives as a lazy, single-pass sequence of records.
package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrMalformedRecord marks a record that could not be parsed. The reader
// resynchronizes on the next record boundary, so the caller may keep going.
var ErrMalformedRecord = errors.New("malformed warc record")

// ErrTruncated marks an archive that ended inside a record.
var ErrTruncated = errors.New("truncated warc archive")

// ScanError describes one skipped record.
type ScanError struct {
	Index  int
	Reason string
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("warc record %d: %s", e.Index, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedRecord.
func (e *ScanError) Unwrap() error {
	return ErrMalformedRecord
}

// Filter selects records during a scan.
type Filter func(*Record) bool

var htmlMediaTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

// ResponseHTML accepts response records carrying an HTML-family document.
func ResponseHTML(rec *Record) bool {
	if rec.Kind != KindResponse {
		return false
	}
	_, ok := htmlMediaTypes[rec.ContentType()]
	return ok
}

// ConversionText accepts conversion records whose content type is text/plain.
func ConversionText(rec *Record) bool {
	return rec.Kind == KindConversion && rec.ContentType() == "text/plain"
}

const gzipMagic = "\x1f\x8b"

// Reader yields records from an archive stream. It is not safe for concurrent use.
type Reader struct {
	br      *bufio.Reader
	gz      *gzip.Reader
	current *io.LimitedReader
	index   int
	resync  bool
}

// NewReader wraps r. Gzip input, including the member-per-record layout used
// by Common Crawl, is detected by its magic bytes and decompressed on the fly.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peek archive header: %w", err)
	}
	if string(magic) != gzipMagic {
		return &Reader{br: br}, nil
	}
	gz, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	gz.Multistream(true)
	return &Reader{br: bufio.NewReaderSize(gz, 64<<10), gz: gz}, nil
}

// Close releases the decompressor, if any. The underlying reader is not closed.
func (r *Reader) Close() error {
	if r.gz == nil {
		return nil
	}
	if err := r.gz.Close(); err != nil {
		return fmt.Errorf("close gzip stream: %w", err)
	}
	return nil
}

// Next returns the next record, io.EOF at the end of the archive, a *ScanError
// for a malformed record, or another error when the stream itself is broken.
func (r *Reader) Next() (*Record, error) {
	if err := r.discard(); err != nil {
		return nil, err
	}
	if err := r.seekVersion(); err != nil {
		return nil, err
	}
	r.index++

	hdr, err := r.readHeader()
	if err != nil {
		return nil, err
	}

	length, err := strconv.ParseInt(strings.TrimSpace(hdr.Get(HeaderContentLength, "")), 10, 64)
	if err != nil || length < 0 {
		r.resync = true
		return nil, &ScanError{Index: r.index, Reason: "missing or invalid Content-Length"}
	}
	r.current = &io.LimitedReader{R: r.br, N: length}

	rec := &Record{
		Kind:      Kind(strings.TrimSpace(hdr.Get(HeaderType, ""))),
		ID:        strings.TrimSpace(hdr.Get(HeaderRecordID, "")),
		TargetURI: strings.TrimSpace(hdr.Get(HeaderTargetURI, "")),
		Headers:   hdr,
		Length:    length,
		body:      r.current,
	}
	if rec.Kind == KindResponse {
		rec.parseHTTP(bufio.NewReaderSize(r.current, 4096))
	}
	return rec, nil
}

// Records returns the filtered record sequence. Malformed records are yielded
// as errors and the sequence continues; a broken stream ends it.
func (r *Reader) Records(filter Filter) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if !yield(nil, err) || !errors.Is(err, ErrMalformedRecord) {
					return
				}
				continue
			}
			if filter != nil && !filter(rec) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (r *Reader) discard() error {
	if r.current == nil {
		return nil
	}
	cur := r.current
	r.current = nil
	if _, err := io.Copy(io.Discard, cur); err != nil {
		return fmt.Errorf("skip record %d: %w", r.index, err)
	}
	if cur.N > 0 {
		return fmt.Errorf("record %d: %w", r.index, ErrTruncated)
	}
	return nil
}

func (r *Reader) seekVersion() error {
	for {
		line, err := readLine(r.br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read record boundary: %w", err)
		}
		if strings.HasPrefix(line, "WARC/") {
			r.resync = false
			return nil
		}
		if line == "" || r.resync {
			continue
		}
		r.resync = true
		return &ScanError{Index: r.index + 1, Reason: "unexpected data before record header"}
	}
}

func (r *Reader) readHeader() (Header, error) {
	var hdr Header
	for {
		line, err := readLine(r.br)
		if err != nil {
			return nil, fmt.Errorf("record %d header: %w", r.index, ErrTruncated)
		}
		if line == "" {
			return hdr, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if !hdr.appendToLast(line) {
				r.resync = true
				return nil, &ScanError{Index: r.index, Reason: "continuation line without header"}
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			r.resync = true
			return nil, &ScanError{Index: r.index, Reason: fmt.Sprintf("invalid header line %q", truncate(line, 64))}
		}
		hdr.add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
