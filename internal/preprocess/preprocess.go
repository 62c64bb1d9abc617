package preprocess

import (
	"regexp"
	"strings"

	"eamscan/internal/store"
)

// Normalized is the preprocessor's view of one fragment. It is recomputed on
// demand and never persisted on its own.
type Normalized struct {
	Fragment        store.Fragment
	CleanedText     string
	PhoneticText    string
	IndicatorHits   []string
	LocalConfidence int
}

// NoiseOnly reports whether the fragment carries no detection signal at all:
// no indicator hits and no coded single-character tokens. Such fragments
// dilute an aggregation rather than corroborate it.
func (n Normalized) NoiseOnly() bool {
	return len(n.IndicatorHits) == 0 && codedTokenCount(n.PhoneticText) == 0
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// Timestamp and duration shapes leaked into raw text by the capture pipeline.
// Composite shapes must be removed before their component shapes: stripping a
// bare "30s" first would leave "26/10/2025 19:33:21" unmatched by the spaced
// stamp pattern.
var timestampPatterns = []*regexp.Regexp{
	// spaced DD/MM/YYYY HH:MM:SS NNs
	regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\s+\d{2}:\d{2}:\d{2}\s+\d{1,4}s\b`),
	// compact DD/MM/YYYYHH:MM:SSNNs
	regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\d{2}:\d{2}:\d{2}\d{1,4}s\b`),
	// slash date + time with no trailing duration
	regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\s*\d{2}:\d{2}:\d{2}\b`),
	// ISO-8601, optional fractional seconds, optional Z or offset
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`),
	// space-separated ISO date+time
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\b`),
	// bracketed timecodes [HH:MM] and [HH:MM:SS]
	regexp.MustCompile(`\[\d{2}:\d{2}(?::\d{2})?\]`),
	// combined minute+second durations like 2m30s
	regexp.MustCompile(`\b\d{1,3}m\d{1,2}s\b`),
	// standalone durations like 30s, 45sec
	regexp.MustCompile(`\b\d{1,4}(?:s|sec|secs)\b`),
}

// Normalize derives the cleaned and phonetic-normalized views of a fragment
// plus indicator hits and a cheap local confidence. Pure function: no I/O, no
// side effects, never fails. Malformed input yields a zero-indicator,
// zero-confidence result rather than an error.
func Normalize(f store.Fragment, triggerPhrases []string) Normalized {
	n := Normalized{Fragment: f}
	text := strings.TrimSpace(f.RawText)
	if text == "" {
		return n
	}

	n.CleanedText = StripTimestamps(text)
	n.PhoneticText = NormalizePhonetic(n.CleanedText)
	n.IndicatorHits = IndicatorHits(n.CleanedText, triggerPhrases)
	n.LocalConfidence = localConfidence(n)
	return n
}

// StripTimestamps removes embedded timestamp and duration noise. Each shape is
// matched and deleted independently, in composite-first order.
func StripTimestamps(text string) string {
	for _, p := range timestampPatterns {
		text = p.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// IndicatorHits reports which trigger phrases occur in the text. Matching is
// case-insensitive over whitespace-collapsed text; zero hits does not disqualify
// a fragment, it may still be the body continuation of an adjacent header.
func IndicatorHits(text string, phrases []string) []string {
	haystack := strings.ToLower(whitespacePattern.ReplaceAllString(text, " "))
	var hits []string
	for _, phrase := range phrases {
		needle := strings.ToLower(strings.TrimSpace(whitespacePattern.ReplaceAllString(phrase, " ")))
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			hits = append(hits, phrase)
		}
	}
	return hits
}

// localConfidence is a cheap 0-100 heuristic used only to prioritize
// evaluation order. It is not the message-level confidence score and is never
// persisted.
func localConfidence(n Normalized) int {
	score := len(n.IndicatorHits) * 20
	if score > 60 {
		score = 60
	}
	coded := codedTokenCount(n.PhoneticText)
	bonus := coded * 4
	if bonus > 30 {
		bonus = 30
	}
	score += bonus
	if len(strings.Fields(n.CleanedText)) >= 5 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func codedTokenCount(text string) int {
	count := 0
	for _, tok := range strings.Fields(text) {
		if len(tok) == 1 && isAlnum(rune(tok[0])) {
			count++
		}
	}
	return count
}

func isAlnum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
