package extractor

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"riptide/internal/document"
)

// wasmPageBytes is the WebAssembly linear-memory page size (64 KiB),
// used to convert spec.md's page-count limits into byte limits for
// wasmtime's store resource limiter.
const wasmPageBytes = 64 * 1024

// wasmtimeRuntime is the process-wide engine + compiled module shared by
// every pooled instance, per spec.md §9 "Instantiation cost dominates
// cold-start; the pool amortizes this by reuse" — the module is compiled
// once, instances are cheap per-store instantiations of it.
type wasmtimeRuntime struct {
	engine *wasmtime.Engine
	module *wasmtime.Module
}

// newWasmtimeRuntime compiles the extractor component from wasmPath with
// epoch interruption, SIMD, and bulk memory enabled, per spec.md §9's
// hosting requirements.
func newWasmtimeRuntime(wasmPath string) (*wasmtimeRuntime, error) {
	cfg := wasmtime.NewConfig()
	cfg.SetEpochInterruption(true)
	cfg.SetWasmSIMD(true)
	cfg.SetWasmBulkMemory(true)
	engine := wasmtime.NewEngineWithConfig(cfg)

	module, err := wasmtime.NewModuleFromFile(engine, wasmPath)
	if err != nil {
		return nil, fmt.Errorf("extractor: compile component %s: %w", wasmPath, err)
	}
	return &wasmtimeRuntime{engine: engine, module: module}, nil
}

// tick advances the shared engine's epoch counter by one tick. Called by
// the pool's tick goroutine at Config.EpochTickInterval (spec.md §9, Open
// Question 4: the tick thread must exist before any extraction begins).
func (w *wasmtimeRuntime) tick() { w.engine.IncrementEpoch() }

// wasmtimeComponent is the Component backed by one store+instance pair.
// The guest module is expected to export: `memory`, `allocate(len i32) i32`,
// `deallocate(ptr i32, len i32)`, and `extract(html_ptr, html_len, url_ptr,
// url_len, mode_ptr, mode_len i32) i32`, returning a pointer to a
// host-readable result buffer: [1 status byte][4-byte LE length][payload].
// Status 0 is a JSON-encoded ExtractedContent; status 1 is a JSON-encoded
// {kind, message} extraction-error (spec.md §6 WIT interface, adapted to
// a string-passing convention a core-wasm-compiled component can expose).
type wasmtimeComponent struct {
	store     *wasmtime.Store
	instance  *wasmtime.Instance
	memory    *wasmtime.Memory
	allocate  *wasmtime.Func
	deallocFn *wasmtime.Func
	extractFn *wasmtime.Func
	capPages  int
	deadTrap  bool
}

func newWasmtimeComponent(rt *wasmtimeRuntime, memoryCapPages int) (*wasmtimeComponent, error) {
	store := wasmtime.NewStore(rt.engine)
	store.Limiter(int64(memoryCapPages)*wasmPageBytes, -1, -1, -1, -1)

	linker := wasmtime.NewLinker(rt.engine)
	instance, err := linker.Instantiate(store, rt.module)
	if err != nil {
		return nil, fmt.Errorf("extractor: instantiate component: %w", err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("extractor: component does not export linear memory")
	}

	get := func(name string) (*wasmtime.Func, error) {
		exp := instance.GetExport(store, name)
		if exp == nil || exp.Func() == nil {
			return nil, fmt.Errorf("extractor: component missing export %q", name)
		}
		return exp.Func(), nil
	}

	allocate, err := get("allocate")
	if err != nil {
		return nil, err
	}
	dealloc, err := get("deallocate")
	if err != nil {
		return nil, err
	}
	extractFn, err := get("extract")
	if err != nil {
		return nil, err
	}

	return &wasmtimeComponent{
		store:     store,
		instance:  instance,
		memory:    memExport.Memory(),
		allocate:  allocate,
		deallocFn: dealloc,
		extractFn: extractFn,
		capPages:  memoryCapPages,
	}, nil
}

func (c *wasmtimeComponent) SetEpochDeadline(ticks uint64) {
	c.store.SetEpochDeadline(ticks)
}

func (c *wasmtimeComponent) MemoryPages() int {
	return int(c.memory.Size(c.store))
}

func (c *wasmtimeComponent) Healthy() bool { return !c.deadTrap }

func (c *wasmtimeComponent) Close() error { return nil }

func (c *wasmtimeComponent) writeString(s string) (int32, int32, error) {
	if s == "" {
		return 0, 0, nil
	}
	raw, err := c.allocate.Call(c.store, int32(len(s)))
	if err != nil {
		return 0, 0, fmt.Errorf("extractor: allocate: %w", err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, 0, fmt.Errorf("extractor: allocate returned unexpected type %T", raw)
	}
	data := c.memory.UnsafeData(c.store)
	copy(data[ptr:], []byte(s))
	return ptr, int32(len(s)), nil
}

func (c *wasmtimeComponent) readResult(resultPtr int32) (status byte, payload []byte, err error) {
	data := c.memory.UnsafeData(c.store)
	if int(resultPtr)+5 > len(data) {
		return 0, nil, fmt.Errorf("extractor: result pointer out of bounds")
	}
	status = data[resultPtr]
	length := binary.LittleEndian.Uint32(data[resultPtr+1 : resultPtr+5])
	start := int(resultPtr) + 5
	end := start + int(length)
	if end > len(data) {
		return 0, nil, fmt.Errorf("extractor: result buffer out of bounds")
	}
	payload = make([]byte, length)
	copy(payload, data[start:end])
	_, _ = c.deallocFn.Call(c.store, resultPtr, int32(5+length))
	return status, payload, nil
}

// Extract invokes the guest's extract() export. ctx is a best-effort
// cancellation signal; the real hard stop is the epoch deadline already
// armed on c.store by the pool via SetEpochDeadline.
func (c *wasmtimeComponent) Extract(ctx context.Context, rawHTML, url string, mode document.ExtractionMode) (document.ExtractedDocument, InstanceStats, error) {
	start := time.Now()

	htmlPtr, htmlLen, err := c.writeString(rawHTML)
	if err != nil {
		return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrInternalError, Msg: err.Error()}
	}
	urlPtr, urlLen, err := c.writeString(url)
	if err != nil {
		return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrInternalError, Msg: err.Error()}
	}
	modePtr, modeLen, err := c.writeString(mode.String())
	if err != nil {
		return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrInternalError, Msg: err.Error()}
	}

	raw, callErr := c.extractFn.Call(c.store, htmlPtr, htmlLen, urlPtr, urlLen, modePtr, modeLen)
	if callErr != nil {
		if trap, ok := callErr.(*wasmtime.Trap); ok && isEpochTrap(trap) {
			c.deadTrap = true
			return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrResourceLimit, Msg: "epoch deadline exceeded"}
		}
		c.deadTrap = true
		return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrInternalError, Msg: callErr.Error()}
	}

	resultPtr, ok := raw.(int32)
	if !ok {
		return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrInternalError, Msg: "extract returned unexpected type"}
	}

	status, payload, err := c.readResult(resultPtr)
	if err != nil {
		return document.ExtractedDocument{}, InstanceStats{}, &ComponentError{Kind: ErrInternalError, Msg: err.Error()}
	}

	stats := InstanceStats{MemoryPages: c.MemoryPages(), ProcessingTime: time.Since(start)}

	if status != 0 {
		var guestErr struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(payload, &guestErr); jsonErr != nil {
			return document.ExtractedDocument{}, stats, &ComponentError{Kind: ErrParseError, Msg: string(payload)}
		}
		return document.ExtractedDocument{}, stats, &ComponentError{Kind: ComponentErrorKind(guestErr.Kind), Msg: guestErr.Message}
	}

	var content struct {
		Title       string   `json:"title"`
		Byline      string   `json:"byline"`
		SiteName    string   `json:"site_name"`
		Description string   `json:"description"`
		Language    string   `json:"language"`
		PlainText   string   `json:"plain_text"`
		Markdown    string   `json:"markdown"`
		Links       []string `json:"links"`
		MediaURLs   []string `json:"media_urls"`
		Categories  []string `json:"categories"`
		Quality     float64  `json:"quality_score"`
	}
	if err := json.Unmarshal(payload, &content); err != nil {
		return document.ExtractedDocument{}, stats, &ComponentError{Kind: ErrParseError, Msg: err.Error()}
	}

	out := document.NewExtractedDocument(url, content.PlainText, content.Markdown, document.StrategyWasm)
	out.Title = content.Title
	out.Byline = content.Byline
	out.SiteName = content.SiteName
	out.Description = content.Description
	out.Language = content.Language
	out.Links = content.Links
	out.MediaURLs = content.MediaURLs
	out.Categories = content.Categories
	out.QualityScore = content.Quality
	return out, stats, nil
}

// isEpochTrap reports whether a wasmtime trap was raised by the epoch
// interrupt mechanism rather than a guest-side fault.
func isEpochTrap(trap *wasmtime.Trap) bool {
	if code := trap.Code(); code != nil && *code == wasmtime.Interrupt {
		return true
	}
	return strings.Contains(strings.ToLower(trap.Message()), "interrupt")
}
