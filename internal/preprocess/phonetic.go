package preprocess

import "strings"

// phoneticTable maps spoken-letter and spoken-digit tokens to their canonical
// single character. It covers the standard radio phonetic alphabet plus the
// spellings and digit substitutions ASR output actually produces.
var phoneticTable = map[string]string{
	"alfa": "A", "alpha": "A",
	"bravo":   "B",
	"charlie": "C", "charley": "C",
	"delta":   "D",
	"echo":    "E",
	"foxtrot": "F",
	"golf":    "G",
	"hotel":   "H",
	"india":   "I",
	"juliet":  "J", "juliett": "J",
	"kilo":     "K",
	"lima":     "L",
	"mike":     "M",
	"november": "N",
	"oscar":    "O",
	"papa":     "P",
	"quebec":   "Q",
	"romeo":    "R",
	"sierra":   "S",
	"tango":    "T",
	"uniform":  "U",
	"victor":   "V",
	"whiskey":  "W", "whisky": "W",
	"xray": "X", "x-ray": "X",
	"yankee": "Y",
	"zulu":   "Z",

	"zero": "0",
	"one":  "1", "wun": "1",
	"two":   "2",
	"three": "3", "tree": "3",
	"four": "4", "fower": "4",
	"five": "5", "fife": "5",
	"six":   "6",
	"seven": "7",
	"eight": "8", "ait": "8",
	"nine": "9", "niner": "9",
}

// NormalizePhonetic collapses spoken letter/digit tokens to their canonical
// characters. Matching is case- and punctuation-tolerant; tokens with no table
// entry pass through unchanged.
func NormalizePhonetic(text string) string {
	if text == "" {
		return ""
	}
	parts := strings.Fields(text)
	for i, part := range parts {
		key := strings.ToLower(strings.Trim(part, ".,;:!?"))
		if canonical, ok := phoneticTable[key]; ok {
			parts[i] = canonical
		}
	}
	return strings.Join(parts, " ")
}
