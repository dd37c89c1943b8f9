// Package tokenizer turns document text into the token stream the index
// stores. It lower-cases input, splits on non-alphanumeric boundaries and,
// depending on Options, removes stop-words and applies a suffix stemmer.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is one normalised term and its offset among the kept tokens of the
// text. Offsets start at 0 and have no gaps.
type Token struct {
	Term     string
	Position int
}

type Options struct {
	MinLength       int
	RemoveStopWords bool
	Stem            bool
}

// DefaultOptions drops one-letter words and stop-words and stems the rest.
func DefaultOptions() Options {
	return Options{MinLength: 2, RemoveStopWords: true, Stem: true}
}

// PlainOptions keeps every word as written, lower-cased.
func PlainOptions() Options {
	return Options{MinLength: 1}
}

type Tokenizer struct {
	opts Options
}

func New(opts Options) *Tokenizer {
	if opts.MinLength < 1 {
		opts.MinLength = 1
	}
	return &Tokenizer{opts: opts}
}

// Tokenize breaks text into Tokens using DefaultOptions.
func Tokenize(text string) []Token {
	return New(DefaultOptions()).Tokenize(text)
}

func (t *Tokenizer) Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if len([]rune(word)) < t.opts.MinLength {
			continue
		}
		if t.opts.RemoveStopWords {
			if _, isStop := stopWords[word]; isStop {
				continue
			}
		}
		if t.opts.Stem {
			word = stem(word)
		}
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Normalize reduces a single query word to the form Tokenize would store,
// or "" when the word would be dropped.
func (t *Tokenizer) Normalize(word string) string {
	toks := t.Tokenize(word)
	if len(toks) != 1 {
		return ""
	}
	return toks[0].Term
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix whose remainder is long enough.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
