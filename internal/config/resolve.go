package config

import (
	"fmt"
	"regexp"
	"strings"
)

var digestIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Resolve validates a raw config tree and produces the effective settings for
// every (digest, source) pair by cascading Global -> Digest -> Group* -> Source.
// It performs no I/O; getenv supplies environment lookups so the env-first
// API key rule stays testable.
func Resolve(raw map[string]any, getenv func(string) string) (*Config, error) {
	if err := checkKeys(raw, "(top level)", map[string]bool{"digests": true}, true); err != nil {
		return nil, err
	}

	cfg := &Config{
		OutputDir:    "output",
		CacheDir:     ".cache",
		CacheEnabled: true,
		LogLevel:     "info",
	}
	if v, ok := raw["output_directory"]; ok {
		s, err := asString(v, "(top level)", "output_directory")
		if err != nil {
			return nil, err
		}
		cfg.OutputDir = s
	}
	if v, ok := raw["cache_directory"]; ok {
		s, err := asString(v, "(top level)", "cache_directory")
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = s
	}
	if v, ok := raw["cache_enabled"]; ok {
		b, err := asBool(v, "(top level)", "cache_enabled")
		if err != nil {
			return nil, err
		}
		cfg.CacheEnabled = b
	}
	if v, ok := raw["log_level"]; ok {
		s, err := asString(v, "(top level)", "log_level")
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = s
	}

	base, err := applyOverrides(Defaults(), raw, "(top level)")
	if err != nil {
		return nil, err
	}

	rawDigests, ok := raw["digests"]
	if !ok {
		return nil, errAt("(top level)", "no digests defined")
	}
	digestList, ok := rawDigests.([]any)
	if !ok {
		return nil, errAt("digests", "must be a list")
	}

	seenIDs := make(map[string]string) // id -> digest name that claimed it
	for i, entry := range digestList {
		path := fmt.Sprintf("digests[%d]", i)
		node, ok := entry.(map[string]any)
		if !ok {
			return nil, errAt(path, "must be a mapping")
		}
		d, err := resolveDigest(node, path, base, getenv)
		if err != nil {
			return nil, err
		}
		if prev, dup := seenIDs[d.ID]; dup {
			return nil, errAt(path, "digest_id %q collides with digest %q", d.ID, prev)
		}
		seenIDs[d.ID] = d.Name
		cfg.Digests = append(cfg.Digests, *d)
	}

	return cfg, nil
}

func resolveDigest(node map[string]any, path string, base Settings, getenv func(string) string) (*Digest, error) {
	structural := map[string]bool{"name": true, "digest_id": true, "sources": true}
	if err := checkKeys(node, path, structural, false); err != nil {
		return nil, err
	}

	rawName, ok := node["name"]
	if !ok {
		return nil, errAt(path, "digest name is required")
	}
	name, err := asString(rawName, path, "name")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, errAt(path, "digest name must not be empty")
	}

	id := DeriveID(name)
	if v, ok := node["digest_id"]; ok {
		explicit, err := asString(v, path, "digest_id")
		if err != nil {
			return nil, err
		}
		if !digestIDPattern.MatchString(explicit) {
			return nil, errAt(path, "digest_id %q must match %s", explicit, digestIDPattern)
		}
		id = explicit
	}
	if id == "" {
		return nil, errAt(path, "cannot derive a digest_id from name %q", name)
	}

	settings, err := applyOverrides(base, node, path)
	if err != nil {
		return nil, err
	}

	rawSources, ok := node["sources"]
	if !ok {
		return nil, errAt(path, "digest must define sources")
	}
	d := &Digest{Name: name, ID: id}
	if err := resolveSources(rawSources, path, settings, "", getenv, &d.Sources); err != nil {
		return nil, err
	}
	if len(d.Sources) == 0 {
		return nil, errAt(path, "digest has no sources")
	}
	return d, nil
}

// resolveSources walks a source list depth-first, carrying the accumulated
// settings downward. Group nodes contribute their override scope and label
// but only leaves land in out.
func resolveSources(raw any, path string, inherited Settings, label string, getenv func(string) string, out *[]Source) error {
	list, ok := raw.([]any)
	if !ok {
		return errAt(path+".sources", "must be a list")
	}

	for i, entry := range list {
		childPath := fmt.Sprintf("%s.sources[%d]", path, i)
		node, ok := entry.(map[string]any)
		if !ok {
			return errAt(childPath, "must be a mapping")
		}

		settings, err := applyOverrides(inherited, node, childPath)
		if err != nil {
			return err
		}

		if _, isGroup := node["sources"]; isGroup {
			if err := checkKeys(node, childPath, map[string]bool{"label": true, "sources": true}, false); err != nil {
				return err
			}
			groupLabel := label
			if v, ok := node["label"]; ok {
				groupLabel, err = asString(v, childPath, "label")
				if err != nil {
					return err
				}
			}
			if err := resolveSources(node["sources"], childPath, settings, groupLabel, getenv, out); err != nil {
				return err
			}
			continue
		}

		if err := checkKeys(node, childPath, map[string]bool{"url": true}, false); err != nil {
			return err
		}
		rawURL, ok := node["url"]
		if !ok {
			return errAt(childPath, "source url is required")
		}
		feedURL, err := asString(rawURL, childPath, "url")
		if err != nil {
			return err
		}
		if err := validateURL(feedURL); err != nil {
			return errAt(childPath, "%s", err)
		}

		settings.APIKey = resolveAPIKey(settings, getenv)

		srcLabel := label
		if srcLabel == "" {
			srcLabel = hostLabel(feedURL)
		}
		*out = append(*out, Source{URL: feedURL, Label: srcLabel, Settings: settings})
	}
	return nil
}

// resolveAPIKey is env-first, config-second: a key in the process environment
// for the resolved provider beats any api_key from the config document.
func resolveAPIKey(s Settings, getenv func(string) string) string {
	if env := getenv(providerEnvVars[s.Provider]); env != "" {
		return env
	}
	return s.APIKey
}

// applyOverrides returns a copy of s with every overridable key defined by
// node applied on top. Keys node does not define pass through unchanged.
func applyOverrides(s Settings, node map[string]any, path string) (Settings, error) {
	var err error
	set := func(key string, apply func(any) error) {
		if err != nil {
			return
		}
		if v, ok := node[key]; ok {
			err = apply(v)
		}
	}

	set("summary_length", func(v any) error {
		n, e := asInt(v, path, "summary_length")
		if e == nil && n <= 0 {
			return errAt(path, "summary_length must be positive")
		}
		s.SummaryLength = n
		return e
	})
	set("model", func(v any) error {
		s.Model, err = asString(v, path, "model")
		return err
	})
	set("system_prompt", func(v any) error {
		s.SystemPrompt, err = asString(v, path, "system_prompt")
		return err
	})
	set("user_prompt", func(v any) error {
		s.UserPrompt, err = asString(v, path, "user_prompt")
		return err
	})
	set("max_tokens", func(v any) error {
		n, e := asInt(v, path, "max_tokens")
		if e == nil && n <= 0 {
			return errAt(path, "max_tokens must be positive")
		}
		s.MaxTokens = n
		return e
	})
	set("temperature", func(v any) error {
		s.Temperature, err = asFloat(v, path, "temperature")
		return err
	})
	set("output_formats", func(v any) error {
		formats, e := asFormats(v, path)
		s.OutputFormats = formats
		return e
	})
	set("do_summarize", func(v any) error {
		s.DoSummarize, err = asBool(v, path, "do_summarize")
		return err
	})
	set("api_key", func(v any) error {
		s.APIKey, err = asString(v, path, "api_key")
		return err
	})
	set("provider", func(v any) error {
		p, e := asString(v, path, "provider")
		if e != nil {
			return e
		}
		if _, known := providerEnvVars[p]; !known {
			return errAt(path, "unknown provider %q", p)
		}
		s.Provider = p
		return nil
	})

	return s, err
}

// DeriveID turns a digest name into a filesystem/URL-safe identifier:
// lower-cased, with every run of non-alphanumeric characters collapsed to a
// single hyphen.
func DeriveID(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// asFormats validates an output_formats list and returns it in canonical
// json, rss, atom order so downstream output is deterministic.
func asFormats(v any, path string) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errAt(path, "output_formats must be a list")
	}
	want := make(map[string]bool, len(list))
	for _, entry := range list {
		f, ok := entry.(string)
		if !ok || !validFormats[f] {
			return nil, errAt(path, "unknown output format %v (valid: json, rss, atom)", entry)
		}
		want[f] = true
	}
	if len(want) == 0 {
		return nil, errAt(path, "output_formats must not be empty")
	}
	var formats []string
	for _, f := range []string{"json", "rss", "atom"} {
		if want[f] {
			formats = append(formats, f)
		}
	}
	return formats, nil
}

func asString(v any, path, key string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errAt(path, "%s must be a string", key)
	}
	return s, nil
}

func asBool(v any, path, key string) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errAt(path, "%s must be a boolean", key)
	}
	return b, nil
}

func asInt(v any, path, key string) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, errAt(path, "%s must be an integer", key)
	}
	return n, nil
}

func asFloat(v any, path, key string) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, errAt(path, "%s must be a number", key)
	}
}
