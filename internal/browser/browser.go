// Package browser implements the headless browser pool spec.md §4.7 step 4
// escalates to when a static fetch is not enough: a JavaScript-executing
// fetch under a hard timeout, subject to a configurable wait condition.
// Grounded on the teacher's session_manager.go (launcher/rod wiring), cut
// down from a stateful multi-session DOM-reification manager to a bounded
// pool of disposable incognito pages used purely for rendering.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"golang.org/x/sync/semaphore"

	"riptide/internal/logging"
	"riptide/internal/riperrors"
)

// WaitCondition selects what signals "the page is ready to scrape",
// spec.md §4.7: "DOM content loaded, selector, network idle, or absolute
// timeout".
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "dom_content_loaded"
	WaitSelector          WaitCondition = "selector"
	WaitNetworkIdle       WaitCondition = "network_idle"
	WaitTimeout           WaitCondition = "timeout"
)

// Config parameterizes a Pool. Callers adapt config.BrowserConfig into this
// shape (kept package-local, as extractor.Config is, to avoid an import
// back onto the config package).
type Config struct {
	LaunchBin             string
	LaunchFlags           []string
	DebuggerURL           string
	Headless              bool
	ViewportWidth         int
	ViewportHeight        int
	NavigationTimeout     time.Duration
	HeadlessTimeout       time.Duration
	WaitCondition         WaitCondition
	WaitSelector          string
	MaxConcurrentSessions int
	UserAgent             string
	AcceptLanguage        string
}

// DefaultConfig mirrors config.DefaultConfig's browser section.
func DefaultConfig() Config {
	return Config{
		Headless:              true,
		ViewportWidth:         1920,
		ViewportHeight:        1080,
		NavigationTimeout:     15 * time.Second,
		HeadlessTimeout:       3 * time.Second,
		WaitCondition:         WaitDOMContentLoaded,
		MaxConcurrentSessions: 4,
	}
}

// Result is what a headless fetch produces: the rendered HTML plus the
// page's final URL after any client-side redirects, per spec.md §C.2.
type Result struct {
	HTML     string
	FinalURL string
}

// Pool lazily launches (or attaches to) one shared browser process and
// gates concurrent renders with a counting semaphore, per
// Config.MaxConcurrentSessions. Every Fetch opens and closes its own
// incognito page; no per-session state survives a call, since headless
// fetch here is a one-shot render, not the stateful automation surface
// the teacher's SessionManager offered.
type Pool struct {
	cfg Config
	sem *semaphore.Weighted

	mu      sync.Mutex
	browser *rod.Browser

	metrics struct {
		mu              sync.Mutex
		launches        int64
		fetches         int64
		timeouts        int64
		navigationFails int64
	}
}

// New constructs a Pool. The browser process is not launched until the
// first Fetch call (or an explicit Start).
func New(cfg Config) *Pool {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 4
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 10 * time.Second
	}
	if cfg.HeadlessTimeout <= 0 {
		cfg.HeadlessTimeout = 3 * time.Second
	}
	return &Pool{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxConcurrentSessions))}
}

// Start launches (or connects to) the shared browser process eagerly.
// Fetch calls it lazily on first use if the caller skips this step.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureBrowserLocked(ctx)
}

func (p *Pool) ensureBrowserLocked(ctx context.Context) error {
	if p.browser != nil {
		if _, err := p.browser.Version(); err == nil {
			return nil
		}
		logging.Get(logging.CategoryBrowser).Warn("stale browser connection, reconnecting")
		_ = p.browser.Close()
		p.browser = nil
	}

	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(p.cfg.Headless)
		if p.cfg.LaunchBin != "" {
			l = l.Bin(p.cfg.LaunchBin)
		}
		for _, rawFlag := range p.cfg.LaunchFlags {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		url, err := l.Launch()
		if err != nil {
			return riperrors.Wrap(riperrors.Dependency, "browser.Start", "launch browser", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return riperrors.Wrap(riperrors.Dependency, "browser.Start", "connect to browser", err)
	}
	p.browser = browser
	p.metrics.mu.Lock()
	p.metrics.launches++
	p.metrics.mu.Unlock()
	logging.Get(logging.CategoryBrowser).Info("browser connected at %s", controlURL)
	return nil
}

// Fetch renders url in a fresh incognito page under the pool's hard
// timeout and returns its HTML once the configured wait condition is
// satisfied. Spec.md §4.7: "On headless timeout, fall back to the static
// response if any" — callers are expected to treat a Timeout-kind error
// from Fetch as exactly that signal.
func (p *Pool) Fetch(ctx context.Context, url string) (Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, riperrors.Wrap(riperrors.Timeout, "browser.Fetch", "acquire browser slot", err)
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	if err := p.ensureBrowserLocked(ctx); err != nil {
		p.mu.Unlock()
		return Result{}, err
	}
	browser := p.browser
	p.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.HeadlessTimeout)
	defer cancel()

	incognito, err := browser.Incognito()
	if err != nil {
		return Result{}, riperrors.Wrap(riperrors.Dependency, "browser.Fetch", "open incognito context", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return Result{}, riperrors.Wrap(riperrors.Dependency, "browser.Fetch", "create page", err)
	}
	defer page.Close()
	page = page.Context(fetchCtx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:  p.cfg.ViewportWidth,
		Height: p.cfg.ViewportHeight,
	}).Call(page); err != nil {
		logging.Get(logging.CategoryBrowser).Warn("set viewport failed: %v", err)
	}

	if p.cfg.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{
			UserAgent:      p.cfg.UserAgent,
			AcceptLanguage: p.cfg.AcceptLanguage,
		}).Call(page); err != nil {
			logging.Get(logging.CategoryBrowser).Warn("set user agent failed: %v", err)
		}
	}

	p.metrics.mu.Lock()
	p.metrics.fetches++
	p.metrics.mu.Unlock()

	navTimeout := p.cfg.NavigationTimeout
	if navTimeout > p.cfg.HeadlessTimeout {
		navTimeout = p.cfg.HeadlessTimeout
	}
	if err := page.Timeout(navTimeout).Navigate(url); err != nil {
		p.metrics.mu.Lock()
		p.metrics.navigationFails++
		p.metrics.mu.Unlock()
		if fetchCtx.Err() != nil {
			p.metrics.mu.Lock()
			p.metrics.timeouts++
			p.metrics.mu.Unlock()
			return Result{}, riperrors.Wrap(riperrors.Timeout, "browser.Fetch", "navigate timed out", err)
		}
		return Result{}, riperrors.Wrap(riperrors.Fetch, "browser.Fetch", "navigate failed", err)
	}

	if err := p.awaitCondition(fetchCtx, page); err != nil {
		if fetchCtx.Err() != nil {
			p.metrics.mu.Lock()
			p.metrics.timeouts++
			p.metrics.mu.Unlock()
			return Result{}, riperrors.Wrap(riperrors.Timeout, "browser.Fetch", "wait condition timed out", err)
		}
		return Result{}, riperrors.Wrap(riperrors.Fetch, "browser.Fetch", "wait condition failed", err)
	}

	html, err := page.HTML()
	if err != nil {
		return Result{}, riperrors.Wrap(riperrors.Fetch, "browser.Fetch", "read rendered HTML", err)
	}

	finalURL := url
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return Result{HTML: html, FinalURL: finalURL}, nil
}

// awaitCondition blocks until the pool's configured WaitCondition is
// satisfied or the page's context (already bound to the headless timeout)
// expires.
func (p *Pool) awaitCondition(ctx context.Context, page *rod.Page) error {
	switch p.cfg.WaitCondition {
	case WaitSelector:
		if p.cfg.WaitSelector == "" {
			return page.WaitLoad()
		}
		_, err := page.Element(p.cfg.WaitSelector)
		return err
	case WaitNetworkIdle:
		return page.WaitStable(500 * time.Millisecond)
	case WaitTimeout:
		// "absolute timeout" means the hard per-fetch deadline already
		// enforced by fetchCtx is itself the wait condition; read
		// whatever the page has produced the moment navigation returns.
		return nil
	case WaitDOMContentLoaded:
		fallthrough
	default:
		return page.WaitLoad()
	}
}

// Metrics is a point-in-time read of the pool's counters, as returned by
// Snapshot.
type Metrics struct {
	Launches        int64
	Fetches         int64
	Timeouts        int64
	NavigationFails int64
}

func (p *Pool) Snapshot() Metrics {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()
	return Metrics{
		Launches:        p.metrics.launches,
		Fetches:         p.metrics.fetches,
		Timeouts:        p.metrics.timeouts,
		NavigationFails: p.metrics.navigationFails,
	}
}

// Shutdown closes the shared browser process.
func (p *Pool) Shutdown(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	if err != nil {
		return fmt.Errorf("browser: shutdown: %w", err)
	}
	return nil
}
