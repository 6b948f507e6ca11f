// Package tokenize splits raw document text into an ordered token stream.
//
// The tokenizer is deterministic: the same input always yields the same
// tokens, and reconstruction from the tokens plus their trailing whitespace
// reproduces the input except for spaces with no token before them, which
// are dropped.
package tokenize

import (
	"strings"
	"unicode"
)

// Token is one unit of the input stream. IsWord reports whether the token is
// entirely alphabetic. TrailingWhitespace holds the literal run of spaces
// that followed the token in the source; newline and tab are significant for
// layout and are emitted as tokens of their own instead.
type Token struct {
	Text               string
	IsWord             bool
	TrailingWhitespace string
}

// Tokenize splits text into tokens. Letter runs form word tokens, digit runs
// form number tokens, newline and tab are single-rune tokens, and every other
// non-space rune stands alone as a punctuation token. Space runs attach to
// the preceding token as trailing whitespace; leading spaces are dropped.
func Tokenize(text string) []Token {
	var tokens []Token
	runes := []rune(text)

	flush := func(b *strings.Builder, isWord bool) {
		if b.Len() == 0 {
			return
		}
		tokens = append(tokens, Token{Text: b.String(), IsWord: isWord})
		b.Reset()
	}

	var word, number strings.Builder
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsLetter(r):
			flush(&number, false)
			word.WriteRune(r)
		case unicode.IsDigit(r):
			flush(&word, true)
			number.WriteRune(r)
		case r == '\n' || r == '\t':
			flush(&word, true)
			flush(&number, false)
			tokens = append(tokens, Token{Text: string(r)})
		case r == ' ':
			flush(&word, true)
			flush(&number, false)
			if len(tokens) > 0 {
				tokens[len(tokens)-1].TrailingWhitespace += " "
			}
		case unicode.IsSpace(r):
			flush(&word, true)
			flush(&number, false)
			if len(tokens) > 0 {
				tokens[len(tokens)-1].TrailingWhitespace += string(r)
			}
		default:
			flush(&word, true)
			flush(&number, false)
			tokens = append(tokens, Token{Text: string(r)})
		}
	}
	flush(&word, true)
	flush(&number, false)

	return tokens
}

// FormatContent normalizes raw upload text before tokenization: single line
// breaks become a space, double line breaks become a line break followed by a
// tab. Applied exactly once, at ingestion.
func FormatContent(text string) string {
	if text == "" {
		return text
	}
	const placeholder = "\x00\x00"
	formatted := strings.ReplaceAll(text, "\n\n", placeholder)
	formatted = strings.ReplaceAll(formatted, "\n", " ")
	return strings.ReplaceAll(formatted, placeholder, "\n\t")
}
