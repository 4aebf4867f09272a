package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentence(t *testing.T) {
	rng := NewRNG(4711)

	s := rng.Sentence(8)
	words := strings.Fields(s)
	assert.Len(t, words, 8)
	for _, w := range words {
		assert.Contains(t, Vocabulary, w)
	}
	assert.Empty(t, rng.Sentence(0))
}

func TestDocuments(t *testing.T) {
	rng := NewRNG(4711)

	docs := rng.Documents(50, 5)
	assert.Len(t, docs, 50)
	for _, d := range docs {
		n := len(strings.Fields(d))
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 5)
	}
}

func TestKeys(t *testing.T) {
	rng := NewRNG(4711)

	keys := rng.Keys("k", 100)
	seen := make(map[string]bool)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "k"))
		seen[k] = true
	}
	assert.Len(t, seen, 100)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	s1 := rng.Sentence(10)
	rng.Reset()
	s2 := rng.Sentence(10)
	assert.Equal(t, s1, s2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestVocabulary(t *testing.T) {
	rng := NewRNGWithVocabulary(1, []string{"only"})
	assert.Equal(t, "only only", rng.Sentence(2))

	assert.Panics(t, func() { NewRNGWithVocabulary(1, nil) })
}

func TestMatchTerm(t *testing.T) {
	docs := []string{"alpha bravo", "bravo", "alphabet", "alpha alpha"}

	assert.Equal(t, []int{0, 3}, MatchTerm(docs, "alpha"))
	assert.Nil(t, MatchTerm(docs, "zulu"))
	assert.Equal(t, 2, CountTerm(docs[3], "alpha"))
	require.Equal(t, 0, CountTerm(docs[2], "alpha"))
}
