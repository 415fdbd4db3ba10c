package config

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func parse(t *testing.T, doc string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("parse test yaml: %v", err)
	}
	return raw
}

func noEnv(string) string { return "" }

func TestResolveCascade(t *testing.T) {
	raw := parse(t, `
summary_length: 150
model: test-model
digests:
  - name: Tech
    summary_length: 180
    sources:
      - url: https://a.example.com/feed
      - label: Papers
        summary_length: 300
        sources:
          - url: https://b.example.com/feed
          - url: https://c.example.com/feed
            summary_length: 200
  - name: Plain
    sources:
      - url: https://d.example.com/feed
`)

	cfg, err := Resolve(raw, noEnv)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	tech := cfg.Digests[0]
	wantLengths := []int{180, 300, 200}
	for i, want := range wantLengths {
		if got := tech.Sources[i].Settings.SummaryLength; got != want {
			t.Errorf("source %d: summary_length = %d, want %d", i, got, want)
		}
	}

	// The sibling digest never sees the first digest's override.
	if got := cfg.Digests[1].Sources[0].Settings.SummaryLength; got != 150 {
		t.Errorf("sibling digest summary_length = %d, want 150", got)
	}

	// Untouched keys pass through every level.
	for i, src := range tech.Sources {
		if src.Settings.Model != "test-model" {
			t.Errorf("source %d: model = %q, want test-model", i, src.Settings.Model)
		}
	}
}

func TestResolveDefaults(t *testing.T) {
	raw := parse(t, `
digests:
  - name: Minimal
    sources:
      - url: https://example.com/feed
`)

	cfg, err := Resolve(raw, noEnv)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	s := cfg.Digests[0].Sources[0].Settings
	if s.SummaryLength != 150 {
		t.Errorf("summary_length = %d, want 150", s.SummaryLength)
	}
	if s.Model != "claude-3-haiku-20240307" {
		t.Errorf("model = %q, want default", s.Model)
	}
	if !s.DoSummarize {
		t.Error("do_summarize should default to true")
	}
	if len(s.OutputFormats) != 1 || s.OutputFormats[0] != "json" {
		t.Errorf("output_formats = %v, want [json]", s.OutputFormats)
	}
	if cfg.OutputDir != "output" || !cfg.CacheEnabled {
		t.Errorf("global defaults wrong: %+v", cfg)
	}
}

func TestResolveGroupLabels(t *testing.T) {
	raw := parse(t, `
digests:
  - name: Labeled
    sources:
      - url: https://plain.example.com/rss
      - label: Outer
        sources:
          - url: https://outer.example.com/rss
          - label: Inner
            sources:
              - url: https://inner.example.com/rss
`)

	cfg, err := Resolve(raw, noEnv)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	got := []string{}
	for _, src := range cfg.Digests[0].Sources {
		got = append(got, src.Label)
	}
	want := []string{"plain.example.com", "Outer", "Inner"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("source %d label = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
		wantMsg  string
	}{
		{
			name: "global-only key on digest",
			doc: `
digests:
  - name: Bad
    output_directory: elsewhere
    sources:
      - url: https://example.com/feed
`,
			wantPath: "digests[0]",
			wantMsg:  "global-only",
		},
		{
			name: "global-only key on source",
			doc: `
digests:
  - name: Bad
    sources:
      - url: https://example.com/feed
        cache_enabled: false
`,
			wantPath: "digests[0].sources[0]",
			wantMsg:  "global-only",
		},
		{
			name: "unknown key",
			doc: `
digests:
  - name: Bad
    sources:
      - url: https://example.com/feed
        sumary_length: 100
`,
			wantPath: "digests[0].sources[0]",
			wantMsg:  "unknown setting",
		},
		{
			name: "missing url",
			doc: `
digests:
  - name: Bad
    sources:
      - summary_length: 100
`,
			wantPath: "digests[0].sources[0]",
			wantMsg:  "url is required",
		},
		{
			name: "bad scheme",
			doc: `
digests:
  - name: Bad
    sources:
      - url: ftp://example.com/feed
`,
			wantPath: "digests[0].sources[0]",
			wantMsg:  "http or https",
		},
		{
			name: "unknown format",
			doc: `
output_formats: [json, pdf]
digests:
  - name: Bad
    sources:
      - url: https://example.com/feed
`,
			wantPath: "(top level)",
			wantMsg:  "unknown output format",
		},
		{
			name: "unknown provider",
			doc: `
digests:
  - name: Bad
    provider: grok
    sources:
      - url: https://example.com/feed
`,
			wantPath: "digests[0]",
			wantMsg:  "unknown provider",
		},
		{
			name: "negative summary length",
			doc: `
digests:
  - name: Bad
    summary_length: -5
    sources:
      - url: https://example.com/feed
`,
			wantPath: "digests[0]",
			wantMsg:  "must be positive",
		},
		{
			name: "missing name",
			doc: `
digests:
  - sources:
      - url: https://example.com/feed
`,
			wantPath: "digests[0]",
			wantMsg:  "name is required",
		},
		{
			name: "no sources",
			doc: `
digests:
  - name: Empty
    sources: []
`,
			wantPath: "digests[0]",
			wantMsg:  "no sources",
		},
		{
			name: "duplicate digest id",
			doc: `
digests:
  - name: Tech News
    sources:
      - url: https://a.example.com/feed
  - name: "tech; news"
    sources:
      - url: https://b.example.com/feed
`,
			wantPath: "digests[1]",
			wantMsg:  "collides",
		},
		{
			name: "invalid explicit digest id",
			doc: `
digests:
  - name: Tech
    digest_id: "Tech News"
    sources:
      - url: https://a.example.com/feed
`,
			wantPath: "digests[0]",
			wantMsg:  "must match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(parse(t, tt.doc), noEnv)
			if err == nil {
				t.Fatal("Resolve() succeeded, want error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError (%v)", err, err)
			}
			if verr.Path != tt.wantPath {
				t.Errorf("error path = %q, want %q (%v)", verr.Path, tt.wantPath, err)
			}
			if !strings.Contains(verr.Msg, tt.wantMsg) {
				t.Errorf("error msg = %q, want substring %q", verr.Msg, tt.wantMsg)
			}
		})
	}
}

func TestResolveAPIKeyEnvFirst(t *testing.T) {
	raw := parse(t, `
api_key: from-config
digests:
  - name: Keys
    sources:
      - url: https://a.example.com/feed
      - url: https://b.example.com/feed
        provider: openai
`)

	env := map[string]string{"ANTHROPIC_API_KEY": "from-env"}
	cfg, err := Resolve(raw, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	srcs := cfg.Digests[0].Sources
	if got := srcs[0].Settings.APIKey; got != "from-env" {
		t.Errorf("anthropic source api key = %q, want from-env", got)
	}
	// No OPENAI_API_KEY in the environment, so config value survives.
	if got := srcs[1].Settings.APIKey; got != "from-config" {
		t.Errorf("openai source api key = %q, want from-config", got)
	}
}

func TestResolveOutputFormatsCanonicalOrder(t *testing.T) {
	raw := parse(t, `
output_formats: [atom, json, rss, json]
digests:
  - name: Formats
    sources:
      - url: https://example.com/feed
`)

	cfg, err := Resolve(raw, noEnv)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	got := cfg.Digests[0].Sources[0].Settings.OutputFormats
	want := []string{"json", "rss", "atom"}
	if len(got) != len(want) {
		t.Fatalf("formats = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("formats = %v, want %v", got, want)
		}
	}
}

func TestDeriveID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Tech News", "tech-news"},
		{"Tech  News!!", "tech-news"},
		{"already-fine", "already-fine"},
		{"CamelCase Name", "camelcase-name"},
		{"  padded  ", "padded"},
		{"日本語", ""},
		{"A/B Testing 101", "a-b-testing-101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveID(tt.name); got != tt.want {
				t.Errorf("DeriveID(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
