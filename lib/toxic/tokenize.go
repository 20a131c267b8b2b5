package toxic

import "strings"

// stemSuffixes is the fixed, ordered suffix list for the stemmer. Order matters,
// the first matching suffix wins and only one suffix is stripped per token.
var stemSuffixes = []string{"ing", "ly", "ed", "s", "es"}

// Tokenize normalizes raw text into an ordered token sequence: lowercase,
// strip everything outside [a-z] and whitespace, split on whitespace, drop
// stop words and stem the rest. Training and prediction must run the exact
// same pipeline, any skew between them silently degrades accuracy.
func Tokenize(text string, stopWords map[string]struct{}) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, w := range fields {
		if _, ok := stopWords[w]; ok {
			continue
		}
		tokens = append(tokens, stem(w))
	}
	return tokens
}

// stem strips the first matching suffix, provided the remaining stem stays
// longer than 2 characters. Single pass, no iteration. This is a deliberately
// crude heuristic stemmer; trained vocabularies are built against this exact
// behavior, so it can't be swapped for a dictionary stemmer without retraining.
func stem(word string) string {
	for _, sfx := range stemSuffixes {
		if strings.HasSuffix(word, sfx) && len(word) > len(sfx)+2 {
			return word[:len(word)-len(sfx)]
		}
	}
	return word
}

// DefaultStopWords returns the builtin english stop word set, the same set
// models are trained with unless overridden.
func DefaultStopWords() []string {
	res := make([]string, len(defaultStopWords))
	copy(res, defaultStopWords)
	return res
}

// stopWordsSet converts a stop words list to a lookup set
func stopWordsSet(words []string) map[string]struct{} {
	res := make(map[string]struct{}, len(words))
	for _, w := range words {
		res[w] = struct{}{}
	}
	return res
}

var defaultStopWords = []string{
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves", "you", "your", "yours", "yourself",
	"yourselves", "he", "him", "his", "himself", "she", "her", "hers", "herself", "it", "its", "itself",
	"they", "them", "their", "theirs", "themselves", "what", "which", "who", "whom", "this", "that", "these",
	"those", "am", "is", "are", "was", "were", "be", "been", "being", "have", "has", "had", "having", "do",
	"does", "did", "doing", "a", "an", "the", "and", "but", "if", "or", "because", "as", "until", "while", "of",
	"at", "by", "for", "with", "about", "against", "between", "into", "through", "during", "before", "after",
	"above", "below", "to", "from", "up", "down", "in", "out", "on", "off", "over", "under", "again", "further",
	"then", "once", "here", "there", "when", "where", "why", "how", "all", "any", "both", "each", "few", "more",
	"most", "other", "some", "such", "no", "nor", "not", "only", "own", "same", "so", "than", "too", "very",
	"can", "will", "just", "don", "should", "now",
}
