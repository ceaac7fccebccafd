package tokenverify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// DefaultFetchTimeout bounds a single key set download.
const DefaultFetchTimeout = 5 * time.Second

// maxKeySetBytes caps the JWKS response body.
const maxKeySetBytes = 1 << 20

// Fetcher retrieves a key set. Swapped out in tests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (jwk.Set, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (jwk.Set, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (jwk.Set, error) {
	return f(ctx, url)
}

// HTTPFetcher downloads a JWKS document with a plain GET.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher whose client gives up after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch GETs url and parses the body as a JWKS. Any non-2xx status is an error,
// as is a body that is not a JWKS document.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxKeySetBytes))
		return nil, fmt.Errorf("fetch JWKS from %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("read JWKS body: %w", err)
	}

	// Keys this library cannot decode are skipped; a token signed by one of
	// them fails later as an unknown kid.
	set, err := jwk.Parse(body, jwk.WithIgnoreParseError(true))
	if err != nil {
		return nil, fmt.Errorf("parse JWKS: %w", err)
	}
	return set, nil
}
