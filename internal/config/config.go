package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ValidationError reports a malformed config entry. Path identifies the
// offending node, e.g. "digests[0].sources[2]".
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Path, e.Msg)
}

func errAt(path, format string, args ...any) error {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Settings is the fully resolved configuration snapshot for one source.
// Every field is populated after resolution; values are carried by value and
// never mutated downstream.
type Settings struct {
	SummaryLength int
	Model         string
	SystemPrompt  string
	UserPrompt    string
	MaxTokens     int
	Temperature   float64
	OutputFormats []string
	DoSummarize   bool
	Provider      string
	APIKey        string
}

// Defaults returns the hard-coded fallback used for any key left unset at
// every scope.
func Defaults() Settings {
	return Settings{
		SummaryLength: 150,
		Model:         "claude-3-haiku-20240307",
		SystemPrompt:  "You are a helpful assistant that summarizes articles concisely.",
		MaxTokens:     150,
		Temperature:   0.3,
		OutputFormats: []string{"json"},
		DoSummarize:   true,
		Provider:      "anthropic",
	}
}

// Source is a leaf feed with its resolved settings. Label comes from the
// innermost enclosing group, or the feed URL host when ungrouped.
type Source struct {
	URL      string
	Label    string
	Settings Settings
}

// Digest is a named output combining one or more sources.
type Digest struct {
	Name    string
	ID      string
	Sources []Source
}

// Config is the validated, fully resolved configuration for a run.
type Config struct {
	OutputDir    string
	CacheDir     string
	CacheEnabled bool
	LogLevel     string
	Digests      []Digest
}

// Setting keys recognized at any scope (Global, Digest, Group, Source).
var overridableKeys = map[string]bool{
	"summary_length": true,
	"model":          true,
	"system_prompt":  true,
	"user_prompt":    true,
	"max_tokens":     true,
	"temperature":    true,
	"output_formats": true,
	"do_summarize":   true,
	"api_key":        true,
	"provider":       true,
}

// Setting keys only valid at the top level.
var globalOnlyKeys = map[string]bool{
	"output_directory": true,
	"cache_directory":  true,
	"cache_enabled":    true,
	"log_level":        true,
}

var validFormats = map[string]bool{"json": true, "rss": true, "atom": true}

// providerEnvVars maps a provider name to the environment variable carrying
// its API key. The environment always wins over a config-supplied api_key.
var providerEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// Load reads a YAML config file, validates it, and resolves every source's
// effective settings. API keys are resolved env-first from the process
// environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return Resolve(raw, os.Getenv)
}

// validateURL checks that a source URL is non-empty and uses http/https.
func validateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("url must not be empty")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// hostLabel returns the host portion of a feed URL for display grouping.
func hostLabel(feedURL string) string {
	parsed, err := url.Parse(feedURL)
	if err != nil || parsed.Host == "" {
		return feedURL
	}
	return parsed.Host
}

// checkKeys rejects any key of node not present in the allowed sets.
// Global-only keys below the top level get a dedicated message so the error
// points at the misplaced setting rather than calling it unknown.
func checkKeys(node map[string]any, path string, structural map[string]bool, allowGlobalOnly bool) error {
	var keys []string
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch {
		case structural[k] || overridableKeys[k]:
		case globalOnlyKeys[k]:
			if !allowGlobalOnly {
				return errAt(path, "setting %q is global-only and cannot be overridden here", k)
			}
		default:
			return errAt(path, "unknown setting %q", k)
		}
	}
	return nil
}
