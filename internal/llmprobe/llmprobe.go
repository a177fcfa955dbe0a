// Package llmprobe wires a single upstream LLM provider behind the Generic
// Circuit Breaker of spec.md §4.14, representing "external collaborators"
// in the narrowest form SPEC_FULL admits: try_call/on_success/on_failure
// plumbing around a real client, with no repair or retry logic layered on
// top (out of scope per spec.md §1). Grounded on the teacher's
// internal/embedding/genai.go client-construction and API-call shape,
// adapted from embeddings to text generation.
package llmprobe

import (
	"context"

	"google.golang.org/genai"

	"riptide/internal/breaker"
	"riptide/internal/logging"
	"riptide/internal/riperrors"
)

// Config parameterizes a Probe.
type Config struct {
	APIKey  string
	Model   string
	Breaker breaker.Config
}

// DefaultConfig mirrors the teacher's embedding engine's model default,
// substituting a generation-capable model.
func DefaultConfig() Config {
	return Config{Model: "gemini-2.0-flash", Breaker: breaker.DefaultConfig()}
}

// Probe is a breaker-gated handle to one upstream LLM provider.
type Probe struct {
	client *genai.Client
	model  string
	brk    *breaker.Breaker
}

// New constructs a Probe, failing fast if no API key is configured.
func New(ctx context.Context, cfg Config) (*Probe, error) {
	if cfg.APIKey == "" {
		return nil, riperrors.New(riperrors.Config, "llmprobe.New", "api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, riperrors.Wrap(riperrors.Dependency, "llmprobe.New", "create genai client", err)
	}

	return &Probe{client: client, model: model, brk: breaker.New(cfg.Breaker)}, nil
}

// Generate issues a single-turn prompt against the upstream provider,
// gated by the probe's circuit breaker. A breaker-open refusal surfaces as
// riperrors.CircuitBreakerOpen without ever reaching the client.
func (p *Probe) Generate(ctx context.Context, prompt string) (string, error) {
	log := logging.Get(logging.CategoryBreaker)

	if err := p.brk.TryCall(); err != nil {
		return "", err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		p.brk.OnFailure()
		log.Warn("llmprobe: upstream call failed, breaker state=%s", p.brk.State())
		return "", riperrors.Wrap(riperrors.Dependency, "llmprobe.Generate", "upstream LLM call failed", err)
	}

	p.brk.OnSuccess()
	return result.Text(), nil
}

// State reports the probe's circuit breaker state, for health surfacing.
func (p *Probe) State() breaker.State {
	return p.brk.State()
}

// Stats reports the probe's circuit breaker statistics.
func (p *Probe) Stats() breaker.Stats {
	return p.brk.Stats()
}
