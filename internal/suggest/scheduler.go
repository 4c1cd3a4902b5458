// Package suggest periodically turns the live transcript into LLM-generated
// meeting suggestions and rolling summaries.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarols/notula/internal/observe"
	"github.com/mkarols/notula/internal/transcript"
	"github.com/mkarols/notula/pkg/provider/llm"
)

// Kind labels what a Suggestion carries.
type Kind string

const (
	// KindSuggestion is a short actionable hint for the ongoing meeting.
	KindSuggestion Kind = "suggestion"

	// KindSummary is a rolling summary of the whole transcript so far.
	KindSummary Kind = "summary"
)

// Suggestion is one generated assistant output.
type Suggestion struct {
	Kind Kind
	Text string
	At   time.Time
}

const (
	defaultInterval        = 15 * time.Second
	defaultSummaryInterval = 2 * time.Minute
	defaultMinNewWords     = 20

	defaultSuggestionPrompt = "You are a silent meeting assistant. Given the transcript so far, " +
		"offer one short, concrete suggestion the participants might act on next. " +
		"Answer with the suggestion only."
	defaultSummaryPrompt = "You are a silent meeting assistant. Summarize the transcript so far " +
		"in a few concise bullet points."
)

// Config holds scheduler tuning. The zero value selects all defaults.
type Config struct {
	// Interval is the transcript polling period. Default 15 s.
	Interval time.Duration

	// SummaryInterval is the minimum spacing between summaries. Default 2 m.
	SummaryInterval time.Duration

	// MinNewWords is how many new transcript words must have accumulated
	// since the last suggestion before another one is generated. Default 20.
	MinNewWords int

	// SuggestionPrompt and SummaryPrompt are the system prompts for the two
	// output kinds. Empty selects the defaults.
	SuggestionPrompt string
	SummaryPrompt    string

	// MaxTokens caps each completion. Zero selects the provider default.
	MaxTokens int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.SummaryInterval <= 0 {
		c.SummaryInterval = defaultSummaryInterval
	}
	if c.MinNewWords <= 0 {
		c.MinNewWords = defaultMinNewWords
	}
	if c.SuggestionPrompt == "" {
		c.SuggestionPrompt = defaultSuggestionPrompt
	}
	if c.SummaryPrompt == "" {
		c.SummaryPrompt = defaultSummaryPrompt
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Scheduler polls a transcript log and emits suggestions and summaries when
// enough new content has accumulated. LLM failures are logged and skipped;
// the next poll tries again.
type Scheduler struct {
	cfg      Config
	log      *transcript.Log
	provider llm.Provider
	metrics  *observe.Metrics
	out      chan Suggestion

	// Poll-loop state, touched only by the goroutine running Run (or by
	// tests calling Poll directly).
	lastWords    int
	summaryAt    time.Time
	summaryWords int
}

// NewScheduler creates a scheduler reading log and generating with provider.
func NewScheduler(cfg Config, log *transcript.Log, provider llm.Provider) (*Scheduler, error) {
	if log == nil {
		return nil, fmt.Errorf("suggest: transcript log must not be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("suggest: llm provider must not be nil")
	}
	cfg.applyDefaults()
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		provider: provider,
		metrics:  m,
		out:      make(chan Suggestion, 16),
	}, nil
}

// Suggestions returns the output channel. It is closed when Run returns.
func (s *Scheduler) Suggestions() <-chan Suggestion { return s.out }

// Run polls the transcript until ctx is cancelled, then closes the output
// channel and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.out)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll performs one evaluation pass: a suggestion when MinNewWords new words
// arrived since the last suggestion, and a summary when SummaryInterval has
// elapsed and the transcript grew since the last summary.
func (s *Scheduler) Poll(ctx context.Context) {
	now := s.cfg.Clock()
	words := s.log.WordCount()

	if words-s.lastWords >= s.cfg.MinNewWords {
		if s.generate(ctx, KindSuggestion, s.cfg.SuggestionPrompt, now) {
			s.lastWords = words
		}
	}

	if words > s.summaryWords && (s.summaryAt.IsZero() || now.Sub(s.summaryAt) >= s.cfg.SummaryInterval) {
		if s.generate(ctx, KindSummary, s.cfg.SummaryPrompt, now) {
			s.summaryAt = now
			s.summaryWords = words
		}
	}
}

// generate runs one completion and emits the result. Returns false when the
// completion failed or produced nothing, so the trigger state is not
// advanced and the next poll retries.
func (s *Scheduler) generate(ctx context.Context, kind Kind, prompt string, now time.Time) bool {
	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages: []llm.Message{
			{Role: "user", Content: s.log.Text()},
		},
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		slog.Error("suggestion generation failed", "kind", kind, "err", err)
		return false
	}
	s.metrics.RecordSuggest(ctx, string(kind), time.Since(start))
	if resp.Content == "" {
		return false
	}

	select {
	case s.out <- Suggestion{Kind: kind, Text: resp.Content, At: now}:
	default:
		slog.Warn("dropping suggestion, output channel full", "kind", kind)
	}
	return true
}
