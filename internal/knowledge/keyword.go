package knowledge

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "for": true, "how": true,
	"in": true, "is": true, "it": true, "my": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "what": true, "who": true, "with": true,
}

// Keywords lower-cases and splits text, dropping stopwords, single
// characters and duplicates.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// KeywordScore is the fraction of words present in text.
func KeywordScore(words []string, text string) float32 {
	if len(words) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	var hit int
	for _, w := range words {
		if strings.Contains(lower, w) {
			hit++
		}
	}
	return float32(hit) / float32(len(words))
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
