// Package collyfetcher downloads archive shards over HTTP using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultBaseURL is the public Common Crawl data endpoint.
const DefaultBaseURL = "https://data.commoncrawl.org/"

// ErrFetchFailed marks a shard that could not be retrieved.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError carries the HTTP status of a failed download (0 when the request
// never produced a response).
type FetchError struct {
	Path   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

// Unwrap lets errors.Is match ErrFetchFailed.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds a whole download. Zero disables it.
	Timeout time.Duration
	// ErrorsLog receives one relative path per failed download when set.
	ErrorsLog string
}

// Fetcher retrieves shards relative to BaseURL into a local directory.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logMu         sync.Mutex
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.MaxBodySize = 0
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// URL returns the absolute URL of a relative shard path.
func (f *Fetcher) URL(relPath string) string {
	return f.cfg.BaseURL + strings.TrimLeft(strings.TrimSpace(relPath), "/")
}

// Fetch downloads relPath into destDir and returns the local file path. On
// failure the path is appended to the errors log, if configured.
func (f *Fetcher) Fetch(ctx context.Context, relPath, destDir string) (string, error) {
	relPath = strings.TrimSpace(relPath)
	dest := filepath.Join(destDir, path.Base(relPath))

	local, err := f.fetch(ctx, relPath, dest)
	if err != nil {
		if logErr := f.recordFailure(relPath); logErr != nil {
			err = errors.Join(err, logErr)
		}
		return "", err
	}
	return local, nil
}

func (f *Fetcher) fetch(ctx context.Context, relPath, dest string) (string, error) {
	var (
		status   int
		saveErr  error
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, dest, &status, &saveErr, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(f.URL(relPath))
	}()

	select {
	case <-ctx.Done():
		// The visit may still save a body it already read.
		go func() {
			<-done
			_ = os.Remove(dest)
		}()
		return "", &FetchError{Path: relPath, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		switch {
		case status != 0 && status != http.StatusOK:
			return "", &FetchError{Path: relPath, Status: status, Err: err}
		case err != nil:
			return "", &FetchError{Path: relPath, Err: fmt.Errorf("colly visit failed: %w", err)}
		case fetchErr != nil:
			return "", &FetchError{Path: relPath, Status: status, Err: fmt.Errorf("colly response failed: %w", fetchErr)}
		case saveErr != nil:
			return "", fmt.Errorf("save %s: %w", dest, saveErr)
		}
		return dest, nil
	}
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	dest string,
	status *int,
	saveErr *error,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		if r.StatusCode != http.StatusOK {
			return
		}
		*saveErr = r.Save(dest)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) recordFailure(relPath string) error {
	if f.cfg.ErrorsLog == "" {
		return nil
	}
	f.logMu.Lock()
	defer f.logMu.Unlock()

	file, err := os.OpenFile(f.cfg.ErrorsLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open errors log: %w", err)
	}
	if _, err := fmt.Fprintln(file, relPath); err != nil {
		_ = file.Close()
		return fmt.Errorf("append errors log: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close errors log: %w", err)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
