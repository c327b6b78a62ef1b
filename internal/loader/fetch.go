package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedScheme is returned for URLs that are neither HTTP(S) nor
// local files.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// Fetcher retrieves the raw bytes behind a path or URL.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// DefaultFetcher reads local paths, file:// URLs and HTTP(S) URLs.
type DefaultFetcher struct {
	Client *http.Client
}

// NewFetcher returns a DefaultFetcher whose HTTP requests time out after
// timeout. Zero means no timeout.
func NewFetcher(timeout time.Duration) *DefaultFetcher {
	return &DefaultFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		// Plain paths, including Windows drive letters
		return os.ReadFile(location)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return os.ReadFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return f.fetchHTTP(ctx, location)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

func (f *DefaultFetcher) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", location, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// resolveRelative resolves ref against the directory holding base. URLs
// resolve as URLs; absolute refs are returned unchanged.
func resolveRelative(base, ref string) string {
	if r, err := url.Parse(ref); err == nil && len(r.Scheme) > 1 {
		return ref
	}
	if b, err := url.Parse(base); err == nil && len(b.Scheme) > 1 {
		r, err := url.Parse(filepath.ToSlash(ref))
		if err != nil {
			return ref
		}
		return b.ResolveReference(r).String()
	}
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(base), ref)
}
