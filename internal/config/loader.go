package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"whisper", "whisper-native", "openai"},
	"acoustic": {"external"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine thresholds
	if t := cfg.Engine.VoiceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.voice_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Engine.LabelFloor; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.label_floor %.2f is out of range [0, 1]", t))
	}
	if n := cfg.Engine.PatternCapacity; n < 0 {
		errs = append(errs, fmt.Errorf("engine.pattern_capacity %d must not be negative", n))
	}
	if v := cfg.Engine.InversionVariant; v != "" && !v.IsValid() {
		errs = append(errs, fmt.Errorf("engine.inversion_variant %q is invalid; valid values: simple, blended", v))
	}

	// Clustering
	if s := cfg.Engine.Clustering.Strategy; s != "" && !s.IsValid() {
		errs = append(errs, fmt.Errorf("engine.clustering.strategy %q is invalid; valid values: similarity, summary", s))
	}
	if t := cfg.Engine.Clustering.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.clustering.similarity_threshold %.2f is out of range [0, 1]", t))
	}
	if n := cfg.Engine.Clustering.SampleCap; n < 0 {
		errs = append(errs, fmt.Errorf("engine.clustering.sample_cap %d must not be negative", n))
	}

	// Labeling thresholds
	if t := cfg.Labeling.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("labeling.phonetic_threshold %.2f is out of range [0, 1]", t))
	}
	if t := cfg.Labeling.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("labeling.fuzzy_threshold %.2f is out of range [0, 1]", t))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("acoustic", cfg.Providers.Acoustic.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; person detections will carry no transcription")
	}
	if cfg.Providers.Acoustic.Name == "" {
		slog.Info("no acoustic backend configured; using built-in feature estimators only")
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; detection history will be held in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
