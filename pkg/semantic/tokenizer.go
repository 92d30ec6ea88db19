package semantic

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenize lowercases, NFC-normalizes, and splits an utterance into word
// tokens. Apostrophes inside words survive ("don't") so vocabulary entries
// can include contractions.
func Tokenize(text string) []string {
	normalized := norm.NFC.String(strings.ToLower(text))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Stem reduces a token to a crude verb stem: strip common inflection
// suffixes, fold the doubled final consonant of forms like "running".
// This is intentionally shallow; the vocabulary maps cover irregulars.
func Stem(token string) string {
	t := strings.Trim(token, "'")
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(t, suffix) && len(t)-len(suffix) >= 3 {
			t = t[:len(t)-len(suffix)]
			break
		}
	}
	if len(t) >= 4 && t[len(t)-1] == t[len(t)-2] {
		t = t[:len(t)-1]
	}
	return t
}
