package preprocess

import (
	"reflect"
	"testing"

	"eamscan/internal/store"
)

func TestStripTimestamps(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"spaced stamp with duration", "26/10/2025 19:33:21 30s SKYKING SKYKING do not answer", "SKYKING SKYKING do not answer"},
		{"compact stamp with duration", "26/10/202519:33:2130s message follows", "message follows"},
		{"stamp without duration", "26/10/2025 19:33:21 stand by for traffic", "stand by for traffic"},
		{"iso with fraction and zone", "2025-10-26T19:33:21.500Z alpha bravo", "alpha bravo"},
		{"iso with offset", "2025-10-26T19:33:21+02:00 alpha bravo", "alpha bravo"},
		{"space separated iso", "2025-10-26 19:33:21 alpha bravo", "alpha bravo"},
		{"bracketed timecode", "[19:33] message follows [19:33:21] more", "message follows more"},
		{"minute second combo", "2m30s authentication follows", "authentication follows"},
		{"bare seconds", "30s alpha 45sec bravo", "alpha bravo"},
		{"mid text stamp", "traffic 26/10/2025 19:33:21 45s continues here", "traffic continues here"},
		{"no noise untouched", "plain transmission with no stamps", "plain transmission with no stamps"},
		{"whitespace collapsed", "alpha   bravo\t charlie", "alpha bravo charlie"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StripTimestamps(tc.in)
			if got != tc.want {
				t.Fatalf("StripTimestamps(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizePhonetic(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alpha bravo charlie", "A B C"},
		{"Alfa BRAVO Charley", "A B C"},
		{"whiskey whisky xray x-ray", "W W X X"},
		{"niner fife tree fower wun ait", "9 5 3 4 1 8"},
		{"tango, echo. sierra;", "T E S"},
		{"ordinary words pass through", "ordinary words pass through"},
		{"", ""},
	}
	for _, tc := range cases {
		got := NormalizePhonetic(tc.in)
		if got != tc.want {
			t.Fatalf("NormalizePhonetic(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIndicatorHits(t *testing.T) {
	phrases := []string{"skyking", "stand by for traffic", "message follows"}

	hits := IndicatorHits("SKYKING SKYKING stand  by for traffic", phrases)
	want := []string{"skyking", "stand by for traffic"}
	if !reflect.DeepEqual(hits, want) {
		t.Fatalf("hits = %v, want %v", hits, want)
	}

	if hits := IndicatorHits("routine dispatch chatter", phrases); len(hits) != 0 {
		t.Fatalf("expected no hits, got %v", hits)
	}
}

func TestNormalizeEmptyText(t *testing.T) {
	n := Normalize(store.Fragment{ID: "f1", RawText: "   "}, []string{"skyking"})
	if n.CleanedText != "" || n.PhoneticText != "" || len(n.IndicatorHits) != 0 || n.LocalConfidence != 0 {
		t.Fatalf("expected zero result for blank text, got %+v", n)
	}
}

func TestNormalizeFullPipeline(t *testing.T) {
	frag := store.Fragment{
		ID:      "f1",
		RawText: "26/10/2025 19:33:21 30s SKYKING SKYKING message follows alpha bravo seven niner kilo tango",
	}
	n := Normalize(frag, []string{"skyking", "message follows"})

	if n.CleanedText != "SKYKING SKYKING message follows alpha bravo seven niner kilo tango" {
		t.Fatalf("cleaned = %q", n.CleanedText)
	}
	if n.PhoneticText != "SKYKING SKYKING message follows A B 7 9 K T" {
		t.Fatalf("phonetic = %q", n.PhoneticText)
	}
	if len(n.IndicatorHits) != 2 {
		t.Fatalf("hits = %v", n.IndicatorHits)
	}
	// 2 hits (40) + 6 coded tokens (24) + length bonus (10)
	if n.LocalConfidence != 74 {
		t.Fatalf("local confidence = %d, want 74", n.LocalConfidence)
	}
}
