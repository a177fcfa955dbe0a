package gate

import (
	"context"
	"testing"
)

func TestClassifyFromCache(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	decision, err := c.Classify(context.Background(), ResponseFacts{
		URL: "https://example.com", ContentType: "text/html", FromCache: true,
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision != DecisionCached {
		t.Fatalf("decision = %s, want %s", decision, DecisionCached)
	}
}

func TestClassifyHeadlessOnScriptHeavy(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	decision, err := c.Classify(context.Background(), ResponseFacts{
		URL: "https://example.com", ContentType: "text/html", ScriptCount: 40,
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision != DecisionHeadless {
		t.Fatalf("decision = %s, want %s", decision, DecisionHeadless)
	}
}

func TestClassifyProbesFirstOnLightScripts(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	decision, err := c.Classify(context.Background(), ResponseFacts{
		URL: "https://example.com", ContentType: "text/html", ScriptCount: 3,
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision != DecisionProbesFirst {
		t.Fatalf("decision = %s, want %s", decision, DecisionProbesFirst)
	}
}

func TestClassifyRawForPlainText(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	decision, err := c.Classify(context.Background(), ResponseFacts{
		URL: "https://example.com/data.json", ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision != DecisionRaw {
		t.Fatalf("decision = %s, want %s", decision, DecisionRaw)
	}
}

func TestClassifyIsolatesSuccessiveCalls(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Classify(context.Background(), ResponseFacts{ContentType: "text/html", FromCache: true}); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	decision, err := c.Classify(context.Background(), ResponseFacts{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if decision != DecisionRaw {
		t.Fatalf("second call leaked first call's signals: decision = %s, want %s", decision, DecisionRaw)
	}
}
