// Package cachefacade implements the Cache Facade described in spec.md §4.6:
// URL validation, cache-key derivation, conditional-aware lookups, and
// tenant-scoped writes, composed from internal/cachekv and
// internal/conditional. Grounded on internal/cachekv/local_core.go's
// validate-then-store shape from the teacher, adapted to HTTP content
// instead of shard snapshots.
package cachefacade

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"riptide/internal/cachekv"
	"riptide/internal/conditional"
	"riptide/internal/document"
	"riptide/internal/logging"
	"riptide/internal/riperrors"
)

// Config controls URL validation and storage limits, mirroring
// config.CacheConfig without importing internal/config (avoids a
// facade -> config -> logging -> facade import cycle risk).
type Config struct {
	ContentTypeAllowlist []string
	HostBlocklist        []string
	AllowPrivateIPs      bool
	MaxURLLength         int
	MaxPayloadBytes      int64
	DefaultTTL           time.Duration
	KeyVersion           int
}

// CachedContent is a stored entry returned to callers on Hit or NotModified.
type CachedContent struct {
	Key          string
	Payload      []byte
	ContentType  string
	ETag         string
	LastModified time.Time
	StoredAt     time.Time
}

// Outcome discriminates the three results of Check, per spec.md §4.6.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeMiss        Outcome = "miss"
)

// CheckResult is the tagged union Check returns.
type CheckResult struct {
	Outcome      Outcome
	Entry        *CachedContent
	CacheKey     string
	ValidatedURL string
}

// Facade composes a cachekv.Store with URL/content validation and
// conditional-request support.
type Facade struct {
	store  cachekv.Store
	config Config
}

// New constructs a Facade over an already-opened Store.
func New(store cachekv.Store, cfg Config) *Facade {
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = 2048
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	return &Facade{store: store, config: cfg}
}

// record is the internal JSON-free wire format stored in cachekv, laid out
// as a small fixed header followed by the payload so Get avoids a second
// round trip for metadata.
type record struct {
	contentType  string
	etag         string
	lastModified time.Time
	storedAt     time.Time
	payload      []byte
}

// ValidateURL enforces spec.md §4.6's scheme/length/host checks.
func ValidateURL(raw string, cfg Config) (string, error) {
	if len(raw) > cfg.MaxURLLength {
		return "", riperrors.New(riperrors.InvalidUrl, "cachefacade.ValidateURL", "url exceeds max length")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", riperrors.Wrap(riperrors.InvalidUrl, "cachefacade.ValidateURL", "unparsable url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", riperrors.New(riperrors.InvalidUrl, "cachefacade.ValidateURL", "scheme must be http or https")
	}
	host := u.Hostname()
	for _, blocked := range cfg.HostBlocklist {
		if strings.EqualFold(host, blocked) {
			return "", riperrors.New(riperrors.InvalidUrl, "cachefacade.ValidateURL", "host is blocklisted")
		}
	}
	if !cfg.AllowPrivateIPs {
		if ip := net.ParseIP(host); ip != nil && isPrivate(ip) {
			return "", riperrors.New(riperrors.InvalidUrl, "cachefacade.ValidateURL", "private-ip hosts are not allowed")
		}
	}
	return u.String(), nil
}

func isPrivate(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

// Check implements spec.md §4.6's check operation.
func (f *Facade) Check(ctx context.Context, rawURL, extractorVersion string, mode document.ExtractionMode, tenant string, cond conditional.Request) (CheckResult, error) {
	validated, err := ValidateURL(rawURL, f.config)
	if err != nil {
		return CheckResult{}, err
	}
	key := document.CacheKey(f.config.KeyVersion, tenant, validated, mode, extractorVersion)

	raw, ok, err := f.store.Get(ctx, key)
	if err != nil {
		return CheckResult{}, riperrors.Wrap(riperrors.Cache, "cachefacade.Check", "backend unreachable", err)
	}
	if !ok {
		return CheckResult{Outcome: OutcomeMiss, CacheKey: key, ValidatedURL: validated}, nil
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return CheckResult{}, riperrors.Wrap(riperrors.Cache, "cachefacade.Check", "corrupt cache entry", err)
	}
	entry := &CachedContent{
		Key:          key,
		Payload:      rec.payload,
		ContentType:  rec.contentType,
		ETag:         rec.etag,
		LastModified: rec.lastModified,
		StoredAt:     rec.storedAt,
	}
	if conditional.Validate(cond, rec.etag, rec.lastModified) {
		if _, err := f.store.Expire(ctx, key, f.config.DefaultTTL); err != nil {
			return CheckResult{}, riperrors.Wrap(riperrors.Cache, "cachefacade.Check", "refresh ttl on not-modified", err)
		}
		return CheckResult{Outcome: OutcomeNotModified, Entry: entry, CacheKey: key, ValidatedURL: validated}, nil
	}
	return CheckResult{Outcome: OutcomeHit, Entry: entry, CacheKey: key, ValidatedURL: validated}, nil
}

// StoreInput carries the fields Store needs from a fresh fetch/extraction.
type StoreInput struct {
	ContentType      string
	ServerETag       string
	ServerLastMod    time.Time
	Payload          []byte
}

// Store implements spec.md §4.6's store operation: validates content-type
// and size, derives the ETag when the origin didn't supply one (Last-Modified
// is stored as given, and stays zero when absent), and writes with ttl, or
// with Config.DefaultTTL when ttl is not positive.
func (f *Facade) Store(ctx context.Context, key string, in StoreInput, ttl time.Duration) (CachedContent, error) {
	if len(in.Payload) > 0 && f.config.MaxPayloadBytes > 0 && int64(len(in.Payload)) > f.config.MaxPayloadBytes {
		return CachedContent{}, riperrors.New(riperrors.PayloadTooLarge, "cachefacade.Store", "payload exceeds max_payload_bytes")
	}
	if in.ContentType != "" && len(f.config.ContentTypeAllowlist) > 0 && !allowlisted(in.ContentType, f.config.ContentTypeAllowlist) {
		return CachedContent{}, riperrors.New(riperrors.InvalidContentType, "cachefacade.Store", "content-type not in allowlist")
	}

	etag := in.ServerETag
	if etag == "" {
		etag = conditional.ComputeETag(in.Payload)
	}
	lastMod := in.ServerLastMod

	if ttl <= 0 {
		ttl = f.config.DefaultTTL
	}
	rec := record{
		contentType:  in.ContentType,
		etag:         etag,
		lastModified: lastMod,
		storedAt:     time.Now(),
		payload:      in.Payload,
	}
	if err := f.store.Set(ctx, key, encodeRecord(rec), ttl); err != nil {
		return CachedContent{}, riperrors.Wrap(riperrors.Cache, "cachefacade.Store", "write failed", err)
	}
	logging.Get(logging.CategoryCache).Debug("stored %s (%d bytes, ttl=%s)", key, len(in.Payload), ttl)
	return CachedContent{
		Key:          key,
		Payload:      in.Payload,
		ContentType:  in.ContentType,
		ETag:         etag,
		LastModified: lastMod,
		StoredAt:     rec.storedAt,
	}, nil
}

func allowlisted(contentType string, allowlist []string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, a := range allowlist {
		if strings.ToLower(a) == ct {
			return true
		}
	}
	return false
}

// Invalidate deletes a single key.
func (f *Facade) Invalidate(ctx context.Context, key string) error {
	if err := f.store.Delete(ctx, key); err != nil {
		return riperrors.Wrap(riperrors.Cache, "cachefacade.Invalidate", "delete failed", err)
	}
	return nil
}

// Clear deletes every key belonging to a tenant (or every key when tenant
// is empty), implementing spec.md §4.6's tenant isolation guarantee.
func (f *Facade) Clear(ctx context.Context, tenant string) (int, error) {
	pattern := "riptide:v*"
	if tenant != "" {
		pattern = "riptide:v" + strconv.Itoa(f.config.KeyVersion) + ":" + tenant + ":*"
	}
	n, err := f.store.ClearPattern(ctx, pattern)
	if err != nil {
		return 0, riperrors.Wrap(riperrors.Cache, "cachefacade.Clear", "clear_pattern failed", err)
	}
	return n, nil
}

// Stats exposes the underlying store's counters, per spec.md §4.1.
func (f *Facade) Stats(ctx context.Context) (cachekv.Stats, error) {
	return f.store.Stats(ctx)
}

// HealthCheck reports whether the backing store is reachable.
func (f *Facade) HealthCheck(ctx context.Context) bool {
	return f.store.HealthCheck(ctx)
}

// encodeRecord/decodeRecord use a minimal length-prefixed layout rather than
// JSON so cached payloads (often already-compressed markdown/HTML) are never
// re-encoded. Field order: contentType, etag, lastModified(unix), storedAt(unix), payload.
func encodeRecord(r record) []byte {
	var b []byte
	b = appendLPString(b, r.contentType)
	b = appendLPString(b, r.etag)
	b = appendInt64(b, r.lastModified.Unix())
	b = appendInt64(b, r.storedAt.Unix())
	b = append(b, r.payload...)
	return b
}

func decodeRecord(b []byte) (record, error) {
	var r record
	var ok bool
	r.contentType, b, ok = readLPString(b)
	if !ok {
		return record{}, riperrors.New(riperrors.Cache, "cachefacade.decodeRecord", "truncated record: content-type")
	}
	r.etag, b, ok = readLPString(b)
	if !ok {
		return record{}, riperrors.New(riperrors.Cache, "cachefacade.decodeRecord", "truncated record: etag")
	}
	var lastMod, storedAt int64
	lastMod, b, ok = readInt64(b)
	if !ok {
		return record{}, riperrors.New(riperrors.Cache, "cachefacade.decodeRecord", "truncated record: last-modified")
	}
	if lastMod != 0 {
		r.lastModified = time.Unix(lastMod, 0)
	}
	storedAt, b, ok = readInt64(b)
	if !ok {
		return record{}, riperrors.New(riperrors.Cache, "cachefacade.decodeRecord", "truncated record: stored-at")
	}
	r.storedAt = time.Unix(storedAt, 0)
	r.payload = b
	return r, nil
}

func appendLPString(b []byte, s string) []byte {
	b = appendInt64(b, int64(len(s)))
	return append(b, s...)
}

func readLPString(b []byte) (string, []byte, bool) {
	n, rest, ok := readInt64(b)
	if !ok || n < 0 || int64(len(rest)) < n {
		return "", nil, false
	}
	return string(rest[:n]), rest[n:], true
}

func appendInt64(b []byte, n int64) []byte {
	var buf [8]byte
	u := uint64(n)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
	return append(b, buf[:]...)
}

func readInt64(b []byte) (int64, []byte, bool) {
	if len(b) < 8 {
		return 0, nil, false
	}
	var u uint64
	for i := 0; i < 8; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	return int64(u), b[8:], true
}
