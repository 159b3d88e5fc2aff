// Package warctest builds small WARC/WET archives for tests.
package warctest

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// Response describes an HTTP response record.
type Response struct {
	ID          string
	TargetURI   string
	ContentType string
	Headers     []string
	Body        string
}

// Conversion describes a text conversion record.
type Conversion struct {
	ID          string
	RefersTo    string
	TargetURI   string
	ContentType string
	Language    string
	Body        string
}

// Builder accumulates archive records. Each record is its own gzip member
// when Gzip is requested, as in Common Crawl archives.
type Builder struct {
	records [][]byte
}

// AddResponse appends a response record.
func (b *Builder) AddResponse(r Response) *Builder {
	var http bytes.Buffer
	http.WriteString("HTTP/1.1 200 OK\r\n")
	if r.ContentType != "" {
		fmt.Fprintf(&http, "Content-Type: %s\r\n", r.ContentType)
	}
	for _, h := range r.Headers {
		http.WriteString(h + "\r\n")
	}
	http.WriteString("\r\n")
	http.WriteString(r.Body)
	return b.AddRaw("response", []string{
		"WARC-Record-ID: " + r.ID,
		"WARC-Target-URI: " + r.TargetURI,
		"Content-Type: application/http; msgtype=response",
	}, http.String())
}

// AddConversion appends a conversion record.
func (b *Builder) AddConversion(c Conversion) *Builder {
	ct := c.ContentType
	if ct == "" {
		ct = "text/plain"
	}
	headers := []string{
		"WARC-Record-ID: " + c.ID,
		"WARC-Refers-To: " + c.RefersTo,
		"WARC-Target-URI: " + c.TargetURI,
		"Content-Type: " + ct,
	}
	if c.Language != "" {
		headers = append(headers, "WARC-Identified-Content-Language: "+c.Language)
	}
	return b.AddRaw("conversion", headers, c.Body)
}

// AddRaw appends a record of any type with the given extra header lines.
func (b *Builder) AddRaw(kind string, headers []string, block string) *Builder {
	var rec bytes.Buffer
	rec.WriteString("WARC/1.0\r\n")
	fmt.Fprintf(&rec, "WARC-Type: %s\r\n", kind)
	for _, h := range headers {
		rec.WriteString(h + "\r\n")
	}
	fmt.Fprintf(&rec, "Content-Length: %d\r\n\r\n", len(block))
	rec.WriteString(block)
	rec.WriteString("\r\n\r\n")
	b.records = append(b.records, rec.Bytes())
	return b
}

// AddGarbage appends bytes that do not form a record.
func (b *Builder) AddGarbage(data string) *Builder {
	b.records = append(b.records, []byte(data))
	return b
}

// Bytes returns the uncompressed archive.
func (b *Builder) Bytes() []byte {
	return bytes.Join(b.records, nil)
}

// Gzip returns the archive with one gzip member per record.
func (b *Builder) Gzip() []byte {
	var out bytes.Buffer
	for _, rec := range b.records {
		zw := gzip.NewWriter(&out)
		_, _ = zw.Write(rec)
		_ = zw.Close()
	}
	return out.Bytes()
}
