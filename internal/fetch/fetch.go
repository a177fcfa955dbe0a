// Package fetch implements the static HTTP fetch step of spec.md §4.7 step
// 4: a best-effort plain net/http attempt with a timeout and a byte limit,
// tried before any browser-pool escalation. Grounded on the teacher's
// internal/shards/researcher/scraper.go (fetchRawContent/fetchAndExtract:
// plain *http.Client, io.LimitReader byte cap, explicit User-Agent header).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"riptide/internal/riperrors"
)

// Config parameterizes a Fetcher.
type Config struct {
	Timeout        time.Duration
	ByteLimit      int64
	MaxRedirects   int
	UserAgent      string
	AcceptLanguage string
}

// DefaultConfig mirrors config.PipelineConfig's static-fetch defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		ByteLimit:    5 << 20,
		MaxRedirects: 5,
		UserAgent:    "riptide/1.0 (+https://example.invalid/bot)",
	}
}

// Response is the result of a successful static fetch.
type Response struct {
	Body        []byte
	StatusCode  int
	ContentType string
	FinalURL    string
	Redirected  bool
	Header      http.Header
}

// Fetcher performs byte-limited, redirect-capped static HTTP GETs.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New constructs a Fetcher. A single *http.Client (and its transport
// connection pool) is shared across all Fetch calls.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ByteLimit <= 0 {
		cfg.ByteLimit = 5 << 20
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("fetch: stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{cfg: cfg, client: client}
}

// isTimeout reports whether err resulted from http.Client.Timeout firing,
// which cancels the request's internal context rather than the caller's.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Fetch performs a GET against url, capping the response body at
// Config.ByteLimit and reporting the final URL after redirects (spec.md
// §C.2), per spec.md §4.7 step 4's "static HTTP with timeout and byte-limit".
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, riperrors.Wrap(riperrors.InvalidUrl, "fetch.Fetch", "build request", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return Response{}, riperrors.Wrap(riperrors.Timeout, "fetch.Fetch", "static fetch timed out", err)
		}
		return Response{}, riperrors.Wrap(riperrors.Fetch, "fetch.Fetch", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.ByteLimit+1))
	if err != nil {
		return Response{}, riperrors.Wrap(riperrors.Fetch, "fetch.Fetch", "read body", err)
	}
	truncated := false
	if int64(len(body)) > f.cfg.ByteLimit {
		body = body[:f.cfg.ByteLimit]
		truncated = true
	}
	_ = truncated // byte-limited bodies are still extracted best-effort, never rejected outright

	finalURL := rawURL
	redirected := false
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
		redirected = finalURL != rawURL
	}

	if resp.StatusCode >= 400 {
		return Response{}, riperrors.New(riperrors.Fetch, "fetch.Fetch",
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, rawURL))
	}

	return Response{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		FinalURL:    finalURL,
		Redirected:  redirected,
		Header:      resp.Header,
	}, nil
}
