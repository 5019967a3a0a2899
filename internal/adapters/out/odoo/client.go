// Package odoo implements the client for the Odoo database manager endpoints.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/sony/gobreaker/v2"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

const (
	// DefaultTimeout bounds a whole call, body transfer included.
	DefaultTimeout = time.Hour

	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = time.Minute

	detailLimit = 200
)

var _ out.BackupProducer = (*Client)(nil)

// Client talks to /web/database/* with the master password.
type Client struct {
	baseURL          string
	masterPassword   string
	client           *http.Client
	timeout          time.Duration
	breaker          *gobreaker.CircuitBreaker[*http.Response]
	breakerThreshold uint32
	breakerCooldown  time.Duration
	location         *time.Location
	nowFn            func() time.Time
	log              zerowrap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithLocation sets the zone used for artifact timestamps.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		c.location = loc
	}
}

// WithBreaker sets how many consecutive transport failures open the
// breaker and how long it stays open.
func WithBreaker(threshold uint32, cooldown time.Duration) Option {
	return func(c *Client) {
		c.breakerThreshold = threshold
		c.breakerCooldown = cooldown
	}
}

// NewClient creates a client for the Odoo instance at baseURL.
func NewClient(baseURL, masterPassword string, log zerowrap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		masterPassword:   masterPassword,
		timeout:          DefaultTimeout,
		breakerThreshold: defaultBreakerThreshold,
		breakerCooldown:  defaultBreakerCooldown,
		location:         time.UTC,
		nowFn:            time.Now,
		log:              log,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	if c.breakerThreshold == 0 {
		c.breakerThreshold = defaultBreakerThreshold
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "odoo-database-manager",
		MaxRequests: 1,
		Timeout:     c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str(zerowrap.FieldLayer, "adapter").
				Str(zerowrap.FieldAdapter, "odoo").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		// Only transport failures count; a rejection proves upstream is alive.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrUpstreamUnavailable)
		},
	})

	return c
}

// ProduceBackup requests a backup. The artifact name is derived locally;
// whatever file name upstream suggests is ignored.
func (c *Client) ProduceBackup(ctx context.Context, dbName string, kind domain.ArtifactKind) (*out.BackupPayload, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "odoo",
		zerowrap.FieldAction:  "ProduceBackup",
		"db":                  dbName,
		"format":              string(kind),
	})
	log := zerowrap.FromCtx(ctx)

	name, err := domain.NameArtifact(dbName, kind, c.nowFn(), c.location)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"master_pwd":    {c.masterPassword},
		"name":          {dbName},
		"backup_format": {kind.BackupFormat()},
	}
	resp, err := c.postForm(ctx, "backup", form)
	if err != nil {
		return nil, err
	}

	// The manager answers a refused backup with its HTML page and a 200.
	if isHTML(resp) {
		page := readManagerPage(resp.Body)
		resp.Body.Close()
		return nil, &domain.UpstreamError{Op: "backup", StatusCode: resp.StatusCode, Detail: page.detail()}
	}

	log.Info().Str("artifact", name).Msg("backup stream opened")
	return &out.BackupPayload{Filename: name, Kind: kind, Body: resp.Body}, nil
}

// DropDatabase asks upstream to drop dbName.
func (c *Client) DropDatabase(ctx context.Context, dbName string) (string, error) {
	form := url.Values{
		"master_pwd": {c.masterPassword},
		"name":       {dbName},
	}
	return c.simpleCall(ctx, "drop", form, "database dropped")
}

// DuplicateDatabase asks upstream to copy source into target.
func (c *Client) DuplicateDatabase(ctx context.Context, source, target string) (string, error) {
	form := url.Values{
		"master_pwd": {c.masterPassword},
		"name":       {source},
		"new_name":   {target},
	}
	return c.simpleCall(ctx, "duplicate", form, "database duplicated")
}

// RestoreDatabase uploads artifactPath as backup_file and restores it as dbName.
func (c *Client) RestoreDatabase(ctx context.Context, artifactPath, dbName string, asCopy bool) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "odoo",
		zerowrap.FieldAction:  "RestoreDatabase",
		zerowrap.FieldPath:    artifactPath,
		"db":                  dbName,
	})
	log := zerowrap.FromCtx(ctx)

	f, err := os.Open(artifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrArtifactMissing, artifactPath)
		}
		return "", log.WrapErr(err, "failed to open artifact")
	}
	defer f.Close()

	// Stream the file through a pipe so large archives never sit in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeRestoreForm(mw, f, filepath.Base(artifactPath), map[string]string{
			"master_pwd": c.masterPassword,
			"name":       dbName,
			"copy":       fmt.Sprintf("%t", asCopy),
		})
		pw.CloseWithError(err)
	}()

	resp, err := c.do(ctx, "restore", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("restore"), pr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	defer resp.Body.Close()

	msg, err := answer(resp, "restore", "database restored")
	if err != nil {
		log.Warn().Err(err).Msg("upstream refused the restore")
		return "", err
	}
	log.Info().Msg("database restored through upstream")
	return msg, nil
}

func writeRestoreForm(mw *multipart.Writer, src io.Reader, filename string, fields map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("backup_file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) simpleCall(ctx context.Context, op string, form url.Values, okMsg string) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "odoo",
		zerowrap.FieldAction:  op,
		"db":                  form.Get("name"),
	})
	log := zerowrap.FromCtx(ctx)

	resp, err := c.postForm(ctx, op, form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	msg, err := answer(resp, op, okMsg)
	if err != nil {
		log.Warn().Err(err).Msg("upstream refused the request")
		return "", err
	}
	log.Info().Msg(okMsg)
	return msg, nil
}

// answer reads a successful status. The manager reports failures as its
// HTML page with an error alert and a 200; any other page means success.
func answer(resp *http.Response, op, okMsg string) (string, error) {
	if isHTML(resp) {
		page := readManagerPage(resp.Body)
		if page.alert != "" {
			return "", &domain.UpstreamError{Op: op, StatusCode: resp.StatusCode, Detail: page.alert}
		}
		return okMsg, nil
	}

	msg := readDetail(resp.Body)
	if msg == "" {
		msg = okMsg
	}
	return msg, nil
}

func isHTML(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")
}

func (c *Client) endpoint(op string) string {
	return c.baseURL + "/web/database/" + op
}

func (c *Client) postForm(ctx context.Context, op string, form url.Values) (*http.Response, error) {
	body := form.Encode()
	return c.do(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(op), strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// do sends one request through the breaker. Any non-200 answer becomes an
// UpstreamError; the response is returned open only on success.
func (c *Client) do(ctx context.Context, op string, build func() (*http.Request, error)) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w: %w", op, domain.ErrUpstreamUnavailable, ctx.Err())
			}
			return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrUpstreamUnavailable, err)
		}

		if resp.StatusCode != http.StatusOK {
			detail := readDetail(resp.Body)
			resp.Body.Close()
			return nil, &domain.UpstreamError{Op: op, StatusCode: resp.StatusCode, Detail: detail}
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return resp, nil
}

// readDetail returns a JSON body compacted, or the first characters of a text body.
func readDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil || len(body) == 0 {
		return ""
	}

	trimmed := bytes.TrimSpace(body)
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}

	return clip(string(trimmed))
}
