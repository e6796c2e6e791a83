package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names; a custom name registered at runtime still
// works.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], expands
// ${ENV} references, applies defaults for zero values, and validates the
// result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values that YAML could not distinguish from
// "unset" and completes partially specified categories.
func ApplyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = def.Server.LogFormat
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if cfg.Storage.Backend == StorageSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = def.Storage.SQLitePath
	}
	if cfg.Tokenizer.Kind == "" {
		cfg.Tokenizer.Kind = def.Tokenizer.Kind
	}

	s := &cfg.Summarizer
	ds := def.Summarizer
	if s.SummaryMode == "" {
		s.SummaryMode = ds.SummaryMode
	}
	if s.SummaryLanguage == "" {
		s.SummaryLanguage = ds.SummaryLanguage
	}
	if s.InjectionPosition == "" {
		s.InjectionPosition = ds.InjectionPosition
	}
	if len(s.CategoryOrder) == 0 {
		s.CategoryOrder = slices.Clone(DefaultCategoryOrder)
	}
	if s.Categories == nil {
		s.Categories = DefaultCategories()
	}
	for id, c := range s.Categories {
		d, known := defaultCategories[id]
		if !known {
			continue
		}
		if c.Label == "" {
			c.Label = d.Label
		}
		if c.Instruction == "" {
			c.Instruction = d.Instruction
		}
		s.Categories[id] = c
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fmt.Sprintf("providers.fallbacks[%d]", i), fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.fallbacks require providers.llm to be set"))
	}

	switch {
	case !cfg.Storage.Backend.IsValid():
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Backend))
	case cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
	case cfg.Storage.Backend == StorageSQLite && cfg.Storage.SQLitePath == "":
		errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
	}

	if !cfg.Tokenizer.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("tokenizer.kind %q is invalid; valid values: heuristic, tiktoken, provider", cfg.Tokenizer.Kind))
	}
	if cfg.Tokenizer.Kind == TokenizerProvider && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("tokenizer.kind provider requires providers.llm"))
	}

	if err := ValidateSettings(cfg.Summarizer); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateSettings checks the summarizer settings on their own. The app
// calls it before swapping in hot-reloaded settings.
func ValidateSettings(s Settings) error {
	var errs []error

	if !s.SummaryMode.IsValid() {
		errs = append(errs, fmt.Errorf("summarizer.summary_mode %q is invalid; valid values: individual, batch", s.SummaryMode))
	}
	if !s.SummaryLanguage.IsValid() {
		errs = append(errs, fmt.Errorf("summarizer.summary_language %q is invalid; valid values: ko, en, ja, hybrid", s.SummaryLanguage))
	}
	if !s.InjectionPosition.IsValid() {
		errs = append(errs, fmt.Errorf("summarizer.injection_position %q is invalid; valid values: in-chat, before-main, after-main", s.InjectionPosition))
	}
	if s.SummaryInterval < 1 {
		errs = append(errs, fmt.Errorf("summarizer.summary_interval must be at least 1, got %d", s.SummaryInterval))
	}
	if s.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("summarizer.batch_size must be at least 1, got %d", s.BatchSize))
	}
	if s.BatchGroupSize < 1 {
		errs = append(errs, fmt.Errorf("summarizer.batch_group_size must be at least 1, got %d", s.BatchGroupSize))
	}
	if s.SummaryMode == ModeBatch && s.BatchGroupSize > s.BatchSize {
		errs = append(errs, fmt.Errorf("summarizer.batch_group_size (%d) must not exceed batch_size (%d)", s.BatchGroupSize, s.BatchSize))
	}
	if s.PreserveRecentMessages < 0 {
		errs = append(errs, fmt.Errorf("summarizer.preserve_recent_messages must not be negative, got %d", s.PreserveRecentMessages))
	}
	if s.InjectionDepth < 0 {
		errs = append(errs, fmt.Errorf("summarizer.injection_depth must not be negative, got %d", s.InjectionDepth))
	}
	if s.TokenBudget < 1 {
		errs = append(errs, fmt.Errorf("summarizer.token_budget must be positive, got %d", s.TokenBudget))
	}
	if s.SummaryContextCount < -1 {
		errs = append(errs, fmt.Errorf("summarizer.summary_context_count must be -1 (all), 0 (off) or positive, got %d", s.SummaryContextCount))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("summarizer.max_tokens must not be negative, got %d", s.MaxTokens))
	}
	if s.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("summarizer.timeout_sec must not be negative, got %d", s.TimeoutSec))
	}
	if s.ChatLoadingCooldown < 0 || s.GenerationEndDelay < 0 {
		errs = append(errs, errors.New("summarizer cooldown and delay durations must not be negative"))
	}

	for id := range s.Categories {
		if !IsCategory(id) {
			errs = append(errs, fmt.Errorf("summarizer.categories: unknown category %q", id))
		}
	}
	seen := make(map[string]bool, len(s.CategoryOrder))
	for _, id := range s.CategoryOrder {
		if !IsCategory(id) {
			errs = append(errs, fmt.Errorf("summarizer.category_order: unknown category %q", id))
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("summarizer.category_order: duplicate category %q", id))
		}
		seen[id] = true
	}
	if len(s.EnabledCategories()) == 0 {
		errs = append(errs, errors.New("summarizer.categories: at least one category must be enabled"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// known list.
func validateProviderName(field, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames, name) {
		slog.Warn("unknown provider name; ensure it is registered before use",
			"field", field,
			"name", name,
			"known", ValidProviderNames,
		)
	}
}
