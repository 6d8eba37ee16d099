// Package fetch reads scene documents from a URL or a directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
)

var (
	// ErrNotFound is wrapped by StatusError for 404 responses and returned
	// for missing files.
	ErrNotFound = errors.New("fetch: document not found")

	// ErrNotText indicates the body is not valid UTF-8.
	ErrNotText = errors.New("fetch: document is not readable as text")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Fetcher struct {
	base    string
	client  *http.Client
	files   afero.Fs
	timeout time.Duration
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }
func WithFiles(fs afero.Fs) Option         { return func(f *Fetcher) { f.files = fs } }

// WithTimeout bounds a single fetch. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }

// New creates a fetcher resolving relative locations against base, which is
// either an http(s) URL or a directory.
func New(base string, opts ...Option) *Fetcher {
	f := &Fetcher{
		base:   base,
		client: http.DefaultClient,
		files:  afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Resolve returns the absolute location a relative one refers to.
func (f *Fetcher) Resolve(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("fetch: empty location")
	}
	if isHTTP(location) {
		return location, nil
	}
	if isHTTP(f.base) {
		base, err := url.Parse(f.base)
		if err != nil {
			return "", fmt.Errorf("fetch: parse base %q: %w", f.base, err)
		}
		ref, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("fetch: parse location %q: %w", location, err)
		}
		return base.ResolveReference(ref).String(), nil
	}
	if filepath.IsAbs(location) || f.base == "" {
		return filepath.Clean(location), nil
	}
	return filepath.Join(f.base, location), nil
}

// Fetch reads the whole document and returns it as text.
func (f *Fetcher) Fetch(ctx context.Context, location string) (string, error) {
	target, err := f.Resolve(location)
	if err != nil {
		return "", err
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var body []byte
	if isHTTP(target) {
		body, err = f.get(ctx, target)
	} else {
		body, err = f.read(ctx, target)
	}
	if err != nil {
		return "", err
	}

	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: %s", ErrNotText, target)
	}
	return string(body), nil
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body of %s: %w", target, err)
	}
	return body, nil
}

func (f *Fetcher) read(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := afero.Exists(f.files, target)
	if err != nil {
		return nil, fmt.Errorf("fetch: stat %s: %w", target, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	body, err := afero.ReadFile(f.files, target)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", target, err)
	}
	return body, nil
}
