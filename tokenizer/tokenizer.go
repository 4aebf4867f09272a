// Package tokenizer splits text into tokens for index columns.
//
// A tokenizer is used through a cursor: Open, then Next until it reports
// false, then Close. The mode tells whether tokens are being added to a
// lexicon or only looked up.
package tokenizer

import (
	"fmt"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Mode distinguishes indexing from querying.
type Mode int

const (
	// ModeAdd tokenizes a value being indexed.
	ModeAdd Mode = iota
	// ModeGet tokenizes a query.
	ModeGet
)

// Token is one unit produced by a cursor.
type Token struct {
	Text string
	// Pos is the ordinal position of the token in the input.
	Pos uint32
}

// Cursor yields tokens.
type Cursor interface {
	Next() (Token, bool)
	Close()
}

// Tokenizer opens cursors over text.
type Tokenizer interface {
	Name() string
	Open(text string, mode Mode) Cursor
}

// Filter inspects tokens after tokenization. Skip returns true to drop a
// token; dropped tokens keep their position.
type Filter interface {
	Name() string
	Skip(tok Token, mode Mode) bool
}

// Collect drains a cursor into a slice of tokens, applying filters.
func Collect(t Tokenizer, text string, mode Mode, filters ...Filter) []Token {
	c := t.Open(text, mode)
	defer c.Close()

	var out []Token
next:
	for {
		tok, ok := c.Next()
		if !ok {
			return out
		}
		for _, f := range filters {
			if f.Skip(tok, mode) {
				continue next
			}
		}
		out = append(out, tok)
	}
}

type sliceCursor struct {
	tokens []Token
	i      int
}

func (c *sliceCursor) Next() (Token, bool) {
	if c.i >= len(c.tokens) {
		return Token{}, false
	}
	tok := c.tokens[c.i]
	c.i++
	return tok, true
}

func (c *sliceCursor) Close() { c.tokens = nil }

type delimit struct{}

// Delimit splits on white space.
var Delimit Tokenizer = delimit{}

func (delimit) Name() string { return "TokenDelimit" }

func (delimit) Open(text string, _ Mode) Cursor {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Text: text[start:i], Pos: uint32(len(tokens))})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: text[start:], Pos: uint32(len(tokens))})
	}
	return &sliceCursor{tokens: tokens}
}

// ngram keeps runs of ASCII letters and digits whole and splits other
// characters into overlapping n-grams. Symbols and spaces separate runs.
type ngram struct {
	name string
	n    int
}

// Unigram emits one token per non-ASCII character.
var Unigram Tokenizer = ngram{name: "TokenUnigram", n: 1}

// Bigram emits overlapping character pairs.
var Bigram Tokenizer = ngram{name: "TokenBigram", n: 2}

func (g ngram) Name() string { return g.name }

func isWord(r rune) bool {
	return r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func (g ngram) Open(text string, mode Mode) Cursor {
	var tokens []Token
	emit := func(s string) {
		tokens = append(tokens, Token{Text: s, Pos: uint32(len(tokens))})
	}

	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			i++
		case isWord(r):
			j := i
			for j < len(runes) && isWord(runes[j]) {
				j++
			}
			emit(string(runes[i:j]))
			i = j
		default:
			j := i
			for j < len(runes) && !isWord(runes[j]) && !unicode.IsSpace(runes[j]) &&
				!unicode.IsPunct(runes[j]) && !unicode.IsSymbol(runes[j]) {
				j++
			}
			g.split(runes[i:j], mode, emit)
			i = j
		}
	}
	return &sliceCursor{tokens: tokens}
}

func (g ngram) split(run []rune, mode Mode, emit func(string)) {
	if len(run) <= g.n {
		emit(string(run))
		return
	}
	for i := 0; i+g.n <= len(run); i++ {
		emit(string(run[i : i+g.n]))
	}
	// Indexed text also records the trailing partial gram so that a
	// one-character query still matches.
	if mode == ModeAdd && g.n > 1 {
		emit(string(run[len(run)-g.n+1:]))
	}
}

var (
	mu       sync.RWMutex
	registry = map[string]Tokenizer{}
)

func init() {
	Register(Delimit)
	Register(Unigram)
	Register(Bigram)
}

// Register makes t available by name.
func Register(t Tokenizer) {
	mu.Lock()
	defer mu.Unlock()
	registry[t.Name()] = t
}

// Lookup returns the tokenizer registered under name.
func Lookup(name string) (Tokenizer, error) {
	mu.RLock()
	defer mu.RUnlock()

	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
	return t, nil
}

// Names returns all registered names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
