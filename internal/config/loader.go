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

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisperlive", "whisper"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
	"vad":        {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
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
// Unknown fields are rejected, so typos fail loudly instead of silently
// falling back to defaults.
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

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; soft problems are
// logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FrameMs < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_ms %d must not be negative", cfg.Capture.FrameMs))
	}

	p := cfg.Pipeline
	for _, v := range []struct {
		name  string
		value int
	}{
		{"pipeline.target_sample_rate", p.TargetSampleRate},
		{"pipeline.lookback_ms", p.LookbackMs},
		{"pipeline.confirm_window_ms", p.ConfirmWindowMs},
		{"pipeline.batch_window_ms", p.BatchWindowMs},
		{"pipeline.start_frames", p.StartFrames},
		{"pipeline.end_frames", p.EndFrames},
	} {
		if v.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", v.name, v.value))
		}
	}
	if p.SpeechThreshold < 0 || p.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.speech_threshold %.3f is out of range [0, 1]", p.SpeechThreshold))
	}
	if p.SilenceThreshold < 0 || p.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.silence_threshold %.3f is out of range [0, 1]", p.SilenceThreshold))
	}
	if p.SpeechThreshold != 0 && p.SilenceThreshold > p.SpeechThreshold {
		errs = append(errs, fmt.Errorf("pipeline.silence_threshold %.3f must not exceed pipeline.speech_threshold %.3f", p.SilenceThreshold, p.SpeechThreshold))
	}

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; suggestions and summaries are disabled")
	}

	if cfg.Suggest.IntervalSec < 0 {
		errs = append(errs, fmt.Errorf("suggest.interval_sec %d must not be negative", cfg.Suggest.IntervalSec))
	}
	if cfg.Suggest.SummaryIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("suggest.summary_interval_sec %d must not be negative", cfg.Suggest.SummaryIntervalSec))
	}

	if cfg.Store.PostgresDSN != "" {
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("store.postgres_dsn is set but providers.embeddings is not; stored segments will not be searchable")
		}
		if cfg.Store.EmbeddingDimensions <= 0 {
			slog.Warn("store.embedding_dimensions is not set; defaulting to 1536")
		}
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
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
