package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eamscan/internal/preprocess"
	"eamscan/internal/store"
)

// FragmentSource is the time-indexed range query the builder depends on. The
// store backs it with a composite (channel_id, start_time_ms) index.
type FragmentSource interface {
	FragmentsInRange(ctx context.Context, channelID string, startMs, endMs int64) ([]store.Fragment, error)
}

// Window is a candidate span of chronologically related fragments concatenated
// for evaluation. Ephemeral: built fresh per evaluation cycle, never persisted.
type Window struct {
	Fragments    []preprocess.Normalized
	CombinedText string
	PhoneticText string
	SegmentCount int
	SpanMs       int64
}

// FragmentIDs returns the ids of the window's fragments in time order.
func (w Window) FragmentIDs() []string {
	ids := make([]string, 0, len(w.Fragments))
	for _, f := range w.Fragments {
		ids = append(ids, f.Fragment.ID)
	}
	return ids
}

// IndicatorHitCount sums indicator hits across the window's fragments.
func (w Window) IndicatorHitCount() int {
	total := 0
	for _, f := range w.Fragments {
		total += len(f.IndicatorHits)
	}
	return total
}

// NoiseCount reports how many of the window's fragments carry no detection
// signal. Unrelated chatter swept in by the time radius scores here.
func (w Window) NoiseCount() int {
	total := 0
	for _, f := range w.Fragments {
		if f.NoiseOnly() {
			total++
		}
	}
	return total
}

// Builder retrieves a channel's recent fragments and assembles candidate
// windows over them.
type Builder struct {
	src     FragmentSource
	timeout time.Duration
	phrases []string
}

func NewBuilder(src FragmentSource, timeout time.Duration, triggerPhrases []string) *Builder {
	return &Builder{src: src, timeout: timeout, phrases: triggerPhrases}
}

// Related fetches the channel's fragments within radius of the anchor time,
// normalized and in chronological order. The store call is timeout-bounded and
// retried once; a second failure abandons this cycle so the fragment stays
// eligible for re-evaluation on the next arrival.
func (b *Builder) Related(ctx context.Context, channelID string, anchorMs, radiusMs int64) ([]preprocess.Normalized, error) {
	startMs := anchorMs - radiusMs
	endMs := anchorMs + radiusMs

	frags, err := b.fetch(ctx, channelID, startMs, endMs)
	if err != nil {
		frags, err = b.fetch(ctx, channelID, startMs, endMs)
	}
	if err != nil {
		return nil, fmt.Errorf("range query channel=%s: %w", channelID, err)
	}

	out := make([]preprocess.Normalized, 0, len(frags))
	for _, f := range frags {
		out = append(out, preprocess.Normalize(f, b.phrases))
	}
	return out, nil
}

func (b *Builder) fetch(ctx context.Context, channelID string, startMs, endMs int64) ([]store.Fragment, error) {
	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.src.FragmentsInRange(qctx, channelID, startMs, endMs)
}

// Full builds the single full-aggregation candidate spanning all related
// fragments.
func Full(frags []preprocess.Normalized) Window {
	return build(frags)
}

// Sliding builds fixed-size windows over the ordered fragment list, one per
// valid starting offset, in chronological order. Used only as the fallback
// when the full aggregation scores below threshold.
func Sliding(frags []preprocess.Normalized, size int) []Window {
	if size < 1 || len(frags) < size {
		return nil
	}
	out := make([]Window, 0, len(frags)-size+1)
	for i := 0; i+size <= len(frags); i++ {
		out = append(out, build(frags[i:i+size]))
	}
	return out
}

// build concatenates in time order; no semantic alignment is attempted beyond
// that ordering.
func build(frags []preprocess.Normalized) Window {
	w := Window{
		Fragments:    frags,
		SegmentCount: len(frags),
	}
	if len(frags) == 0 {
		return w
	}
	cleaned := make([]string, 0, len(frags))
	phonetic := make([]string, 0, len(frags))
	for _, f := range frags {
		if f.CleanedText != "" {
			cleaned = append(cleaned, f.CleanedText)
		}
		if f.PhoneticText != "" {
			phonetic = append(phonetic, f.PhoneticText)
		}
	}
	w.CombinedText = strings.Join(cleaned, " ")
	w.PhoneticText = strings.Join(phonetic, " ")

	first := frags[0].Fragment
	last := frags[len(frags)-1].Fragment
	w.SpanMs = last.StartTimeMs + last.DurationMs - first.StartTimeMs
	if w.SpanMs < 0 {
		w.SpanMs = 0
	}
	return w
}
