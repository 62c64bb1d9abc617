package detect

import (
	"strings"

	"eamscan/internal/store"
)

// Extraction is the structural read of a combined text: a fixed-length coded
// header token, if one could be isolated, plus the trailing body.
type Extraction struct {
	Header      string
	Body        string
	MessageType string
}

// extract scans the phonetic-normalized combined text for the first run of
// consecutive single-character coded tokens at least headerLen long. The first
// headerLen characters of that run form the header; everything after those
// tokens is the body. With no qualifying run the whole text is an UNKNOWN body.
func extract(phonetic string, headerLen int) Extraction {
	tokens := strings.Fields(phonetic)
	runStart := -1
	runLen := 0
	for i, tok := range tokens {
		if isCodedToken(tok) {
			if runStart == -1 {
				runStart = i
			}
			runLen++
			if runLen >= headerLen {
				break
			}
			continue
		}
		runStart = -1
		runLen = 0
	}

	if runLen < headerLen {
		return Extraction{
			Body:        strings.TrimSpace(phonetic),
			MessageType: store.TypeUnknown,
		}
	}

	header := strings.Join(tokens[runStart:runStart+headerLen], "")
	body := strings.TrimSpace(strings.Join(tokens[runStart+headerLen:], " "))
	return Extraction{
		Header:      header,
		Body:        body,
		MessageType: store.TypeStructured,
	}
}

func isCodedToken(tok string) bool {
	if len(tok) != 1 {
		return false
	}
	r := tok[0]
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
