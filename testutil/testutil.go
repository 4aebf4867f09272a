package testutil

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
)

// Vocabulary is the default word list. Words are lower case ASCII so that
// the delimit tokenizer and the auto normalizer leave them unchanged.
var Vocabulary = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel",
	"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
	"quebec", "romeo", "sierra", "tango", "uniform", "victor", "whiskey",
	"xray", "yankee", "zulu",
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand  *rand.Rand
	seed  int64
	words []string
	mu    sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed and the default
// vocabulary.
func NewRNG(seed int64) *RNG {
	return NewRNGWithVocabulary(seed, Vocabulary)
}

// NewRNGWithVocabulary is like NewRNG but draws words from vocab.
func NewRNGWithVocabulary(seed int64, vocab []string) *RNG {
	if len(vocab) == 0 {
		panic("testutil: empty vocabulary")
	}
	return &RNG{
		rand:  rand.New(rand.NewSource(seed)),
		seed:  seed,
		words: slices.Clone(vocab),
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Word returns a random vocabulary word.
func (r *RNG) Word() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.words[r.rand.Intn(len(r.words))]
}

// Sentence returns n random words joined by single spaces.
// Locks only once per call (preferred over calling Word in a loop).
func (r *RNG) Sentence(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sentence(n)
}

func (r *RNG) sentence(n int) string {
	var sb strings.Builder
	for i := range n {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(r.words[r.rand.Intn(len(r.words))])
	}
	return sb.String()
}

// Documents generates num sentences of up to maxWords words each. Every
// document has at least one word.
func (r *RNG) Documents(num, maxWords int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]string, num)
	for i := range docs {
		docs[i] = r.sentence(1 + r.rand.Intn(maxWords))
	}
	return docs
}

// Keys returns n distinct keys with the given prefix in random order.
func (r *RNG) Keys(prefix string, n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, n)
	for i, p := range r.rand.Perm(n) {
		keys[i] = fmt.Sprintf("%s%06d", prefix, p)
	}
	return keys
}

// MatchTerm returns the indexes of the documents that contain term as a
// whole space separated word.
func MatchTerm(docs []string, term string) []int {
	var out []int
	for i, d := range docs {
		if slices.Contains(strings.Fields(d), term) {
			out = append(out, i)
		}
	}
	return out
}

// CountTerm returns how often term occurs in doc as a whole word.
func CountTerm(doc, term string) int {
	n := 0
	for _, w := range strings.Fields(doc) {
		if w == term {
			n++
		}
	}
	return n
}
