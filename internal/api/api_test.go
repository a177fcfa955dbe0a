package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"riptide/internal/breaker"
	"riptide/internal/cachefacade"
	"riptide/internal/cachekv"
	"riptide/internal/document"
	"riptide/internal/extractor"
	"riptide/internal/fetch"
	"riptide/internal/gate"
	"riptide/internal/health"
	"riptide/internal/pipeline"
	"riptide/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubComponent struct{}

func (s *stubComponent) Extract(ctx context.Context, html, url string, mode document.ExtractionMode) (document.ExtractedDocument, extractor.InstanceStats, error) {
	doc := document.NewExtractedDocument(url, "stub text", "stub text", document.StrategyWasm)
	return doc, extractor.InstanceStats{MemoryPages: 1, ProcessingTime: time.Millisecond}, nil
}
func (s *stubComponent) SetEpochDeadline(ticks uint64) {}
func (s *stubComponent) MemoryPages() int              { return 1 }
func (s *stubComponent) Healthy() bool                 { return true }
func (s *stubComponent) Close() error                  { return nil }

func newTestExtractorPool(t *testing.T) *extractor.Pool {
	t.Helper()
	factory := func() (extractor.Component, error) { return &stubComponent{}, nil }
	cfg := extractor.Config{
		MaxPoolSize:            2,
		AcquireTimeout:         time.Second,
		MemoryCapPages:         256,
		EpochDeadline:          time.Second,
		EpochTickInterval:      10 * time.Millisecond,
		MaxUseCount:            1000,
		MaxAge:                 time.Hour,
		MaxConsecutiveFailures: 5,
		FallbackEnabled:        true,
		Breaker:                breaker.DefaultConfig(),
		ExtractorVersion:       "1.0.0",
	}
	p := extractor.New(cfg, factory, func() {})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store := cachekv.NewMemoryStore()
	cache := cachefacade.New(store, cachefacade.Config{
		MaxURLLength:    4096,
		AllowPrivateIPs: true,
		DefaultTTL:      time.Hour,
	})
	classifier, err := gate.New()
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	orch := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Cache:     cache,
		Gate:      classifier,
		Static:    fetch.New(fetch.DefaultConfig()),
		Extractor: newTestExtractorPool(t),
	})
	monitor := health.New(health.DefaultConfig(), health.SamplerFunc(func() health.PoolSample {
		return health.PoolSample{TotalExtractions: 1, SuccessfulExtractions: 1}
	}))
	sessions := session.New(cachekv.NewMemoryStore(), time.Hour)
	return Deps{Pipeline: orch, Health: monitor, Sessions: sessions}
}

func TestPostCrawlSingleURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>hello</p></body></html>"))
	}))
	defer srv.Close()

	router := SetupRouter(newTestDeps(t))
	body, _ := json.Marshal(map[string]string{"url": srv.URL})
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result document.URLResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if result.Document == nil {
		t.Fatalf("expected a document in the response")
	}
}

func TestPostCrawlRejectsEmptyRequest(t *testing.T) {
	router := SetupRouter(newTestDeps(t))
	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetHealthReturnsLatestReport(t *testing.T) {
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	deps.Health.Start(ctx)
	defer cancel()

	// Latest() may race Start's first tick; poll briefly instead of sleeping
	// a fixed guess.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := deps.Health.Latest(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	router := SetupRouter(deps)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	router := SetupRouter(newTestDeps(t))

	createBody, _ := json.Marshal(map[string]string{"user_id": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", getRec.Code)
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", delRec.Code)
	}

	getAgainReq := httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID, nil)
	getAgainRec := httptest.NewRecorder()
	router.ServeHTTP(getAgainRec, getAgainReq)
	if getAgainRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getAgainRec.Code)
	}
}

func TestExtractAndExportTablesOverHTTP(t *testing.T) {
	router := SetupRouter(newTestDeps(t))
	html := `<table><caption>Prices</caption><tr><th>Item</th><th>Price</th></tr><tr><td>Widget</td><td>$5</td></tr></table>`

	extractBody, _ := json.Marshal(map[string]string{"html": html})
	extractReq := httptest.NewRequest(http.MethodPost, "/api/v1/tables/extract", bytes.NewReader(extractBody))
	extractReq.Header.Set("Content-Type", "application/json")
	extractRec := httptest.NewRecorder()
	router.ServeHTTP(extractRec, extractReq)
	if extractRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", extractRec.Code, extractRec.Body.String())
	}

	exportBody, _ := json.Marshal(map[string]string{"html": html, "format": "markdown"})
	exportReq := httptest.NewRequest(http.MethodPost, "/api/v1/tables/export", bytes.NewReader(exportBody))
	exportReq.Header.Set("Content-Type", "application/json")
	exportRec := httptest.NewRecorder()
	router.ServeHTTP(exportRec, exportReq)
	if exportRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", exportRec.Code, exportRec.Body.String())
	}
	if !bytes.Contains(exportRec.Body.Bytes(), []byte("| Widget | $5 |")) {
		t.Errorf("expected markdown table row, got %s", exportRec.Body.String())
	}
}
