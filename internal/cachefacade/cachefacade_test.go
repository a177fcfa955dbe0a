package cachefacade

import (
	"context"
	"testing"
	"time"

	"riptide/internal/cachekv"
	"riptide/internal/conditional"
	"riptide/internal/document"
)

func testFacade() *Facade {
	return New(cachekv.NewMemoryStore(), Config{
		ContentTypeAllowlist: []string{"text/html", "text/markdown"},
		MaxPayloadBytes:      1 << 20,
		KeyVersion:           1,
	})
}

func TestValidateURLRejectsBadScheme(t *testing.T) {
	_, err := ValidateURL("ftp://example.com", Config{MaxURLLength: 2048})
	if err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestValidateURLRejectsTooLong(t *testing.T) {
	long := "https://example.com/" + string(make([]byte, 3000))
	_, err := ValidateURL(long, Config{MaxURLLength: 2048})
	if err == nil {
		t.Fatal("expected error for overlong url")
	}
}

func TestValidateURLRejectsBlocklistedHost(t *testing.T) {
	_, err := ValidateURL("https://blocked.example.com/a", Config{
		MaxURLLength:  2048,
		HostBlocklist: []string{"blocked.example.com"},
	})
	if err == nil {
		t.Fatal("expected error for blocklisted host")
	}
}

func TestValidateURLRejectsPrivateIP(t *testing.T) {
	_, err := ValidateURL("http://127.0.0.1/admin", Config{MaxURLLength: 2048})
	if err == nil {
		t.Fatal("expected error for private-ip host")
	}
}

func TestValidateURLAllowsPrivateIPWhenConfigured(t *testing.T) {
	_, err := ValidateURL("http://127.0.0.1/admin", Config{MaxURLLength: 2048, AllowPrivateIPs: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckMissThenStoreThenHit(t *testing.T) {
	f := testFacade()
	ctx := context.Background()
	mode := document.Article()

	res, err := f.Check(ctx, "https://example.com/a", "1.0.0", mode, "", conditional.Request{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Outcome != OutcomeMiss {
		t.Fatalf("expected miss, got %s", res.Outcome)
	}

	stored, err := f.Store(ctx, res.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("<html>hi</html>")}, 0)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored.ETag == "" {
		t.Fatal("expected derived ETag")
	}

	res2, err := f.Check(ctx, "https://example.com/a", "1.0.0", mode, "", conditional.Request{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res2.Outcome != OutcomeHit {
		t.Fatalf("expected hit, got %s", res2.Outcome)
	}
	if string(res2.Entry.Payload) != "<html>hi</html>" {
		t.Fatalf("unexpected payload: %q", res2.Entry.Payload)
	}
}

func TestCheckNotModifiedWithMatchingETag(t *testing.T) {
	f := testFacade()
	ctx := context.Background()
	mode := document.Full()

	res, _ := f.Check(ctx, "https://example.com/b", "1.0.0", mode, "", conditional.Request{})
	stored, err := f.Store(ctx, res.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("body")}, time.Hour)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	res2, err := f.Check(ctx, "https://example.com/b", "1.0.0", mode, "", conditional.Request{IfNoneMatch: stored.ETag})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res2.Outcome != OutcomeNotModified {
		t.Fatalf("expected not_modified, got %s", res2.Outcome)
	}
}

func TestCheckNotModifiedRefreshesTTL(t *testing.T) {
	store := cachekv.NewMemoryStore()
	f := New(store, Config{
		ContentTypeAllowlist: []string{"text/html"},
		MaxPayloadBytes:      1 << 20,
		KeyVersion:           1,
		DefaultTTL:           time.Hour,
	})
	ctx := context.Background()
	mode := document.Full()

	res, _ := f.Check(ctx, "https://example.com/c", "1.0.0", mode, "", conditional.Request{})
	stored, err := f.Store(ctx, res.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("body")}, time.Minute)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	ttlBefore, ok, err := store.TTL(ctx, res.CacheKey)
	if err != nil || !ok {
		t.Fatalf("TTL before: ok=%v err=%v", ok, err)
	}

	res2, err := f.Check(ctx, "https://example.com/c", "1.0.0", mode, "", conditional.Request{IfNoneMatch: stored.ETag})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res2.Outcome != OutcomeNotModified {
		t.Fatalf("expected not_modified, got %s", res2.Outcome)
	}

	ttlAfter, ok, err := store.TTL(ctx, res.CacheKey)
	if err != nil || !ok {
		t.Fatalf("TTL after: ok=%v err=%v", ok, err)
	}
	if ttlAfter <= ttlBefore {
		t.Fatalf("expected TTL to be refreshed to the facade's default (longer than the original minute-long TTL): before=%s after=%s", ttlBefore, ttlAfter)
	}
}

func TestStoreRejectsDisallowedContentType(t *testing.T) {
	f := testFacade()
	ctx := context.Background()
	_, err := f.Store(ctx, "some-key", StoreInput{ContentType: "application/octet-stream", Payload: []byte("x")}, 0)
	if err == nil {
		t.Fatal("expected error for disallowed content-type")
	}
}

func TestStoreRejectsOversizedPayload(t *testing.T) {
	f := New(cachekv.NewMemoryStore(), Config{MaxPayloadBytes: 4})
	_, err := f.Store(context.Background(), "k", StoreInput{Payload: []byte("way too big")}, 0)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestTenantIsolationInKeys(t *testing.T) {
	f := testFacade()
	ctx := context.Background()
	mode := document.Article()

	resA, _ := f.Check(ctx, "https://example.com/c", "1.0.0", mode, "tenant-a", conditional.Request{})
	resB, _ := f.Check(ctx, "https://example.com/c", "1.0.0", mode, "tenant-b", conditional.Request{})
	if resA.CacheKey == resB.CacheKey {
		t.Fatal("expected distinct cache keys across tenants")
	}

	f.Store(ctx, resA.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("a-content")}, 0)
	checkB, err := f.Check(ctx, "https://example.com/c", "1.0.0", mode, "tenant-b", conditional.Request{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if checkB.Outcome != OutcomeMiss {
		t.Fatal("expected tenant-b to miss despite tenant-a's write")
	}
}

func TestClearScopedToTenant(t *testing.T) {
	f := testFacade()
	ctx := context.Background()
	mode := document.Article()

	resA, _ := f.Check(ctx, "https://example.com/d", "1.0.0", mode, "tenant-a", conditional.Request{})
	f.Store(ctx, resA.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("a")}, 0)
	resB, _ := f.Check(ctx, "https://example.com/d", "1.0.0", mode, "tenant-b", conditional.Request{})
	f.Store(ctx, resB.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("b")}, 0)

	n, err := f.Clear(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 key cleared, got %d", n)
	}

	checkB, _ := f.Check(ctx, "https://example.com/d", "1.0.0", mode, "tenant-b", conditional.Request{})
	if checkB.Outcome != OutcomeHit {
		t.Fatal("expected tenant-b entry to survive tenant-a's clear")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	f := testFacade()
	ctx := context.Background()
	mode := document.Article()

	res, _ := f.Check(ctx, "https://example.com/e", "1.0.0", mode, "", conditional.Request{})
	f.Store(ctx, res.CacheKey, StoreInput{ContentType: "text/html", Payload: []byte("x")}, 0)
	if err := f.Invalidate(ctx, res.CacheKey); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	res2, _ := f.Check(ctx, "https://example.com/e", "1.0.0", mode, "", conditional.Request{})
	if res2.Outcome != OutcomeMiss {
		t.Fatal("expected miss after invalidate")
	}
}

func TestHealthCheckDelegatesToStore(t *testing.T) {
	f := testFacade()
	if !f.HealthCheck(context.Background()) {
		t.Fatal("expected healthy memory store")
	}
}
