package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"eamscan/internal/config"
	"eamscan/internal/events"
	"eamscan/internal/metrics"
	"eamscan/internal/preprocess"
	"eamscan/internal/procset"
	"eamscan/internal/store"
	"eamscan/internal/window"
)

// MessageStore is the slice of the durable store the detector needs for
// repeat merges and inserts.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *store.Message) (string, error)
	AppendRecordingIDs(ctx context.Context, messageID string, newIDs []string, seenAt time.Time) (*store.Message, error)
	FindRecentMessageByHeader(ctx context.Context, header string, cutoff time.Time) (*store.Message, error)
	MessagesSince(ctx context.Context, cutoff time.Time) ([]store.Message, error)
}

// Publisher receives accepted-message events.
type Publisher interface {
	Publish(ev events.MessageEvent)
}

// Result is the outcome of one evaluation cycle. A rejection is not an error:
// the fragments simply stay eligible for future evaluation as more arrive.
type Result struct {
	Accepted  bool
	Repeat    bool
	Cached    bool
	Score     int
	MessageID string
	Message   *store.Message
}

// Detector runs structural extraction and scoring over candidate windows and
// decides accept, merge or reject.
type Detector struct {
	cfg      config.DetectorConfig
	windows  *window.Builder
	messages MessageStore
	cache    procset.Cache
	bus      Publisher
	stats    *metrics.Metrics
	log      zerolog.Logger
	timeout  time.Duration
	now      func() time.Time
}

func New(cfg config.DetectorConfig, wb *window.Builder, ms MessageStore, cache procset.Cache, bus Publisher, stats *metrics.Metrics, log zerolog.Logger, storeTimeout time.Duration) *Detector {
	return &Detector{
		cfg:      cfg,
		windows:  wb,
		messages: ms,
		cache:    cache,
		bus:      bus,
		stats:    stats,
		log:      log,
		timeout:  storeTimeout,
		now:      time.Now,
	}
}

// Evaluate runs one detection cycle for the channel of the arriving fragment.
// Callers must serialize evaluations per channel; different channels may run
// concurrently.
func (d *Detector) Evaluate(ctx context.Context, frag store.Fragment) (Result, error) {
	d.stats.IncEvaluations()

	radiusMs := int64(d.cfg.WindowRadiusSec) * 1000
	related, err := d.windows.Related(ctx, frag.ChannelID, frag.StartTimeMs, radiusMs)
	if err != nil {
		d.stats.IncStoreErrors()
		return Result{}, err
	}
	if len(related) == 0 {
		// Store lag: the anchor itself has not landed yet. Evaluate it alone.
		related = []preprocess.Normalized{preprocess.Normalize(frag, d.cfg.TriggerPhrases)}
	}

	full := window.Full(related)
	fullKey := procset.Key(full.FragmentIDs())
	if out, ok := d.cache.Get(fullKey); ok {
		d.stats.IncCacheHits()
		return Result{Accepted: out.Accepted, Cached: true, MessageID: out.MessageID}, nil
	}

	score, ext := d.Score(full)
	if score >= d.cfg.AcceptThreshold {
		return d.accept(ctx, full, score, ext, fullKey)
	}

	// Windowed fallback, earliest window clearing the threshold wins. The
	// full-aggregation key is recorded too so the identical set never gets
	// re-scored.
	if len(related) >= 3 {
		for _, w := range window.Sliding(related, d.cfg.WindowSize) {
			wkey := procset.Key(w.FragmentIDs())
			if out, ok := d.cache.Get(wkey); ok {
				d.stats.IncCacheHits()
				if out.Accepted {
					d.cache.Put(fullKey, out)
					return Result{Accepted: true, Cached: true, MessageID: out.MessageID}, nil
				}
				continue
			}
			ws, wext := d.Score(w)
			if ws >= d.cfg.AcceptThreshold {
				res, err := d.accept(ctx, w, ws, wext, wkey)
				if err == nil {
					d.cache.Put(fullKey, procset.Outcome{MessageID: res.MessageID, Accepted: true})
				}
				return res, err
			}
			d.cache.Put(wkey, procset.Outcome{})
		}
	}

	d.cache.Put(fullKey, procset.Outcome{})
	d.stats.IncRejected()
	d.log.Debug().
		Str("channel", frag.ChannelID).
		Int("score", score).
		Int("fragments", len(related)).
		Int("local_confidence", maxLocalConfidence(related)).
		Msg("window rejected")
	return Result{Score: score}, nil
}

// maxLocalConfidence is the strongest per-fragment prior in the set. Advisory
// only: it never gates acceptance, but a high value on a rejected set is the
// signal to look at in the logs when tuning weights.
func maxLocalConfidence(frags []preprocess.Normalized) int {
	best := 0
	for _, f := range frags {
		if f.LocalConfidence > best {
			best = f.LocalConfidence
		}
	}
	return best
}

// Score computes the 0-100 confidence for one window: indicator-hit density,
// a well-formed header, corroboration from independently-arriving segments,
// minus dilution from signal-free fragments swept in by the time radius and a
// penalty when a repeated phrase shows up inside a single fragment
// (mechanical looping rather than genuine re-broadcast across fragments).
// The noise term is what makes the sliding fallback matter: a full
// aggregation padded with unrelated chatter can score below threshold while a
// tight window over the actual broadcast clears it.
func (d *Detector) Score(w window.Window) (int, Extraction) {
	weights := d.cfg.Weights
	ext := extract(w.PhoneticText, d.cfg.HeaderLength)

	score := w.IndicatorHitCount() * weights.IndicatorWeight
	if score > weights.IndicatorCap {
		score = weights.IndicatorCap
	}
	if ext.Header != "" {
		score += weights.HeaderWeight
	}
	segment := (w.SegmentCount - 1) * weights.SegmentWeight
	if segment > weights.SegmentCap {
		segment = weights.SegmentCap
	}
	if segment > 0 {
		score += segment
	}
	noise := w.NoiseCount() * weights.NoiseWeight
	if noise > weights.NoiseCap {
		noise = weights.NoiseCap
	}
	score -= noise
	if w.SegmentCount == 1 && HasRepeatedPattern(w.CombinedText) {
		score -= weights.RepeatPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, ext
}

func (d *Detector) accept(ctx context.Context, w window.Window, score int, ext Extraction, key string) (Result, error) {
	seenAt := d.now().UTC()
	cutoff := seenAt.Add(-time.Duration(d.cfg.RepeatLookbackMin) * time.Minute)
	ids := w.FragmentIDs()

	existing, err := d.findRecent(ctx, ext, cutoff)
	if err != nil {
		d.stats.IncStoreErrors()
		return Result{}, fmt.Errorf("repeat lookup: %w", err)
	}

	if existing != nil {
		merged, err := d.messages.AppendRecordingIDs(ctx, existing.ID, ids, seenAt)
		if err != nil {
			d.stats.IncStoreErrors()
			return Result{}, fmt.Errorf("repeat merge: %w", err)
		}
		d.cache.Put(key, procset.Outcome{MessageID: merged.ID, Accepted: true})
		d.stats.IncMerged()
		d.log.Info().Str("message_id", merged.ID).Int("repeat_count", merged.RepeatCount).Int("score", score).Msg("repeat merged")
		d.publish(events.MessageEvent{Message: *merged, Repeat: true})
		return Result{Accepted: true, Repeat: true, Score: score, MessageID: merged.ID, Message: merged}, nil
	}

	msg := &store.Message{
		MessageType:     ext.MessageType,
		Body:            ext.Body,
		ConfidenceScore: score,
		SegmentCount:    w.SegmentCount,
		RecordingIDs:    ids,
		FirstDetectedAt: seenAt,
		LastDetectedAt:  seenAt,
		RepeatCount:     1,
	}
	if ext.Header != "" {
		header := ext.Header
		msg.Header = &header
	}
	if w.SpanMs > 0 {
		dur := float64(w.SpanMs) / 1000
		msg.DurationSeconds = &dur
	}
	id, err := d.messages.InsertMessage(ctx, msg)
	if err != nil {
		d.stats.IncStoreErrors()
		return Result{}, fmt.Errorf("insert message: %w", err)
	}
	d.cache.Put(key, procset.Outcome{MessageID: id, Accepted: true})
	d.stats.IncAccepted()
	d.log.Info().Str("message_id", id).Str("type", msg.MessageType).Int("score", score).Int("segments", w.SegmentCount).Msg("message accepted")
	d.publish(events.MessageEvent{Message: *msg})
	return Result{Accepted: true, Score: score, MessageID: id, Message: msg}, nil
}

// findRecent locates a message this acceptance is a re-broadcast of: by header
// when one was isolated, otherwise by near-identical body. Lookups are
// timeout-bounded and retried once.
func (d *Detector) findRecent(ctx context.Context, ext Extraction, cutoff time.Time) (*store.Message, error) {
	if ext.Header != "" {
		m, err := d.byHeader(ctx, ext.Header, cutoff)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			m, err = d.byHeader(ctx, ext.Header, cutoff)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return m, err
	}

	recent, err := d.recentMessages(ctx, cutoff)
	if err != nil {
		recent, err = d.recentMessages(ctx, cutoff)
	}
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if bodySimilarity(ext.Body, recent[i].Body) >= d.cfg.BodySimilarity {
			return &recent[i], nil
		}
	}
	return nil, nil
}

func (d *Detector) byHeader(ctx context.Context, header string, cutoff time.Time) (*store.Message, error) {
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.messages.FindRecentMessageByHeader(qctx, header, cutoff)
}

func (d *Detector) recentMessages(ctx context.Context, cutoff time.Time) ([]store.Message, error) {
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.messages.MessagesSince(qctx, cutoff)
}

func (d *Detector) publish(ev events.MessageEvent) {
	if d.bus != nil {
		d.bus.Publish(ev)
	}
}

// bodySimilarity is token-set Jaccard over lowercased words.
func bodySimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}
