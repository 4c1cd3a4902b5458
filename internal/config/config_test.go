package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/mkarols/notula/internal/config"
	"github.com/mkarols/notula/pkg/provider/stt"
	sttmock "github.com/mkarols/notula/pkg/provider/stt/mock"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: info
capture:
  sample_rate: 48000
  format: pulse
  device: default
pipeline:
  target_sample_rate: 16000
  lookback_ms: 3000
  confirm_window_ms: 500
  batch_window_ms: 600
  speech_threshold: 0.02
  silence_threshold: 0.01
providers:
  stt:
    name: whisperlive
    base_url: ws://localhost:9090
    model: small
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
suggest:
  interval_sec: 20
  min_new_words: 30
store:
  postgres_dsn: ""
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.STT.Name != "whisperlive" || cfg.Providers.STT.BaseURL != "ws://localhost:9090" {
		t.Fatalf("stt entry = %+v", cfg.Providers.STT)
	}
	if cfg.Pipeline.ConfirmWindowMs != 500 || cfg.Pipeline.BatchWindowMs != 600 {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Suggest.MinNewWords != 30 {
		t.Fatalf("suggest = %+v", cfg.Suggest)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := `
providers:
  stt:
    name: whisperlive
  transcription_backend: typo
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field accepted, want decode error")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Server.LogLevel = "verbose"
	cfg.Pipeline.LookbackMs = -1
	cfg.Pipeline.SpeechThreshold = 0.01
	cfg.Pipeline.SilenceThreshold = 0.5

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("invalid config validated cleanly")
	}
	for _, want := range []string{"server.log_level", "pipeline.lookback_ms", "silence_threshold", "providers.stt.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error misses %q: %v", want, err)
		}
	}
}

func TestRegistry_CreateUsesRegisteredFactory(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Provider, error) {
		if entry.Model != "small" {
			t.Errorf("factory saw model %q, want small", entry.Model)
		}
		return &sttmock.Provider{}, nil
	})

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "mock", Model: "small"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("factory returned nil provider")
	}

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "unheard-of"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("unregistered name = %v, want ErrProviderNotRegistered", err)
	}
}
