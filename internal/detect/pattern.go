package detect

import "strings"

// maxPatternWords bounds the repeated-pattern scan. Structured-traffic headers
// and bodies are short relative to this cap, so trading recall on very long
// fragments for a fixed latency ceiling is acceptable.
const maxPatternWords = 200

const (
	minPhraseLen = 3
	maxPhraseLen = 8
)

// HasRepeatedPattern reports whether the text repeats any phrase of 3 to 8
// words within its first 200 words. Near-linear: one pass per phrase length
// over the capped word list, with the seen-set cleared between lengths.
func HasRepeatedPattern(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > maxPatternWords {
		words = words[:maxPatternWords]
	}
	for size := minPhraseLen; size <= maxPhraseLen; size++ {
		if len(words) <= size {
			break
		}
		seen := make(map[string]struct{}, len(words))
		for i := 0; i+size <= len(words); i++ {
			phrase := strings.Join(words[i:i+size], " ")
			if _, ok := seen[phrase]; ok {
				return true
			}
			seen[phrase] = struct{}{}
		}
	}
	return false
}
