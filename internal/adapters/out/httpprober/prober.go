// Package httpprober checks that the upstream database manager answers HTTP.
package httpprober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/odoobackup/internal/domain"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// selectorPath is the database manager page; it answers 200 when the
// manager is enabled and 403/404 when list_db is off.
const selectorPath = "/web/database/selector"

// Prober issues reachability checks.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// Option configures the Prober.
type Option func(*Prober)

// WithTimeout sets the probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		p.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) {
		p.client = client
	}
}

// New creates a prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = &http.Client{
			Timeout: p.timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
			// Don't follow redirects - the login redirect is an answer too
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return p
}

// Probe sends a GET to the database manager page under baseURL.
// Any HTTP answer is a success; only transport failures are errors.
func (p *Prober) Probe(ctx context.Context, baseURL string) (*domain.UpstreamProbe, error) {
	url := strings.TrimRight(baseURL, "/") + selectorPath
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "odoobackup-probe/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return &domain.UpstreamProbe{
		URL:            url,
		StatusCode:     resp.StatusCode,
		Elapsed:        time.Since(start),
		ManagerEnabled: resp.StatusCode == http.StatusOK,
	}, nil
}
