package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetState(t *testing.T) {
	t.Helper()
	CloseAll()
	logsDir = ""
	settings = Settings{}
	logLevel = LevelInfo
}

func TestInitializeDisabledByDefault(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if IsDebugMode() {
		t.Fatal("expected debug mode disabled")
	}
	if _, err := os.Stat(filepath.Join(tempDir, ".riptide", "logs")); !os.IsNotExist(err) {
		t.Fatal("expected no logs directory to be created when disabled")
	}
}

func TestAllCategoriesLogWhenEnabled(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	categories := []Category{
		CategoryPipeline, CategoryCache, CategoryExtractor, CategoryGate,
		CategoryHealth, CategoryResource, CategoryRateLimit, CategorySession,
		CategorySpider, CategoryChunk, CategoryBreaker, CategoryBrowser,
		CategoryFetch, CategoryAPI,
	}
	for _, cat := range categories {
		Get(cat).Info("hello from %s", cat)
	}

	date := time.Now().Format("2006-01-02")
	for _, cat := range categories {
		path := filepath.Join(tempDir, ".riptide", "logs", date+"_"+string(cat)+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("category %s: expected log file: %v", cat, err)
			continue
		}
		if !strings.Contains(string(data), "hello from "+string(cat)) {
			t.Errorf("category %s: log file missing expected message", cat)
		}
	}
}

func TestCategoryDisabledIsNoOp(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Settings{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{string(CategoryBrowser): false},
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	Get(CategoryBrowser).Info("should not appear")

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(tempDir, ".riptide", "logs", date+"_browser.log")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected no log file for disabled category")
	}
}

func TestLevelFiltering(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Settings{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	l := Get(CategoryPipeline)
	l.Debug("debug msg")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tempDir, ".riptide", "logs", date+"_pipeline.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "debug msg") || strings.Contains(content, "info msg") {
		t.Fatal("expected debug/info to be filtered out at warn level")
	}
	if !strings.Contains(content, "warn msg") || !strings.Contains(content, "error msg") {
		t.Fatal("expected warn/error to be logged")
	}
}

func TestReconfigureSwapsSettings(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Settings{DebugMode: true, Level: "error"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Get(CategoryCache).Warn("first warn, should be dropped")

	Reconfigure(Settings{DebugMode: true, Level: "debug"})
	Get(CategoryCache).Warn("second warn, should land")

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tempDir, ".riptide", "logs", date+"_cache.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "first warn") {
		t.Fatal("expected first warn to be filtered before reconfigure")
	}
	if !strings.Contains(content, "second warn") {
		t.Fatal("expected second warn to land after reconfigure")
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()
	if err := Initialize(tempDir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	timer := StartTimer(CategoryExtractor, "warm_instance")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Millisecond)
	if elapsed <= 0 {
		t.Fatal("expected non-zero elapsed duration")
	}

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tempDir, ".riptide", "logs", date+"_extractor.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "WARN") {
		t.Fatal("expected a WARN entry since elapsed exceeded threshold")
	}
}

func TestRequestLoggerCarriesCorrelationID(t *testing.T) {
	resetState(t)
	tempDir := t.TempDir()
	if err := Initialize(tempDir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rl := WithRequestID(CategoryPipeline, "req-123").WithField("tenant", "acme")
	rl.Info("processing url")

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tempDir, ".riptide", "logs", date+"_pipeline.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "req:req-123") {
		t.Fatal("expected correlation id in log line")
	}
	if !strings.Contains(content, "tenant") {
		t.Fatal("expected field in log line")
	}
}
