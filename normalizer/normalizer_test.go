package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuto(t *testing.T) {
	assert.Equal(t, "red fox", Auto.Normalize("  RED   Fox "))
	assert.Equal(t, "abc123", Auto.Normalize("ＡＢＣ１２３"))
	assert.Equal(t, "strasse", Auto.Normalize("STRASSE"))
}

func TestNFKC(t *testing.T) {
	assert.Equal(t, "ABC", NFKC.Normalize("ＡＢＣ"))
}

func TestRegistry(t *testing.T) {
	n, err := Lookup("NormalizerAuto")
	require.NoError(t, err)
	assert.Equal(t, "NormalizerAuto", n.Name())

	_, err = Lookup("NormalizerMissing")
	assert.Error(t, err)

	Register(Func{ID: "NormalizerUpper", Fn: func(s string) string { return s + "!" }})
	assert.Contains(t, Names(), "NormalizerUpper")
}
