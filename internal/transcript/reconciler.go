package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/mkarols/notula/pkg/provider/stt"
)

// defaultFuzzyThreshold is the Jaro-Winkler similarity above which a newly
// finalized text counts as a re-finalization of the previous segment.
const defaultFuzzyThreshold = 0.97

// ReconcilerOption configures a [Reconciler].
type ReconcilerOption func(*Reconciler)

// WithFuzzyGuard enables the near-duplicate guard: a completed text whose
// Jaro-Winkler similarity to the most recent segment meets or exceeds
// threshold is treated as already seen. Thresholds outside (0, 1] select the
// default of 0.97.
func WithFuzzyGuard(threshold float64) ReconcilerOption {
	return func(r *Reconciler) {
		if threshold <= 0 || threshold > 1 {
			threshold = defaultFuzzyThreshold
		}
		r.fuzzyThreshold = threshold
	}
}

// Reconciler folds backend transcription messages into a [Log]. Backends
// re-send completed segments and continuously revise the in-progress one, so
// the reconciler deduplicates finalized text and treats interim text as fully
// replaceable rather than cumulative.
//
// A Reconciler is driven by the single goroutine consuming a session's
// message channel and is not safe for concurrent use; the Log it writes is.
type Reconciler struct {
	log  *Log
	seen map[string]struct{}

	// fuzzyThreshold > 0 enables the near-duplicate guard.
	fuzzyThreshold float64
}

// NewReconciler creates a reconciler writing into log.
func NewReconciler(log *Log, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		log:  log,
		seen: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply folds one backend message into the log:
//
//   - Each completed segment whose trimmed text has not been finalized this
//     session is appended as a new segment. The confidence recorded on every
//     append from this message is taken from the message's last segment,
//     matching what the backend reports for the batch as a whole.
//   - The interim line becomes the text of the last non-completed segment in
//     the message, or is cleared when the message carries none. Interim text
//     replaces the previous interim wholesale.
//
// Messages must be applied in delivery order.
func (r *Reconciler) Apply(msg stt.Message) {
	if len(msg.Segments) == 0 {
		return
	}
	confidence := msg.Segments[len(msg.Segments)-1].Confidence

	var interim string
	for _, seg := range msg.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if !seg.Completed {
			interim = text
			continue
		}
		if _, dup := r.seen[text]; dup {
			continue
		}
		r.seen[text] = struct{}{}
		if r.isNearDuplicate(text) {
			continue
		}
		r.log.Append(text, confidence)
	}
	r.log.SetInterim(interim)
}

// Reset forgets all previously seen text, for a new session against the same
// log.
func (r *Reconciler) Reset() {
	r.seen = make(map[string]struct{})
}

// isNearDuplicate reports whether text is a near-identical re-finalization of
// the most recent segment.
func (r *Reconciler) isNearDuplicate(text string) bool {
	if r.fuzzyThreshold <= 0 {
		return false
	}
	last, ok := r.log.Last()
	if !ok {
		return false
	}
	sim := matchr.JaroWinkler(strings.ToLower(text), strings.ToLower(last.Text), false)
	return sim >= r.fuzzyThreshold
}
