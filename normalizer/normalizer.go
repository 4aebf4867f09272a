// Package normalizer provides the text normalizers applied to table keys
// and to text before tokenization.
package normalizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalizer rewrites text into a canonical form.
type Normalizer interface {
	Name() string
	Normalize(s string) string
}

// Func adapts a function to a Normalizer.
type Func struct {
	ID string
	Fn func(string) string
}

func (f Func) Name() string               { return f.ID }
func (f Func) Normalize(s string) string { return f.Fn(s) }

// Auto applies NFKC, full case folding and collapses runs of white space.
var Auto Normalizer = Func{ID: "NormalizerAuto", Fn: func(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}}

// NFKC applies Unicode NFKC only.
var NFKC Normalizer = Func{ID: "NormalizerNFKC", Fn: norm.NFKC.String}

var (
	mu       sync.RWMutex
	registry = map[string]Normalizer{}
)

func init() {
	Register(Auto)
	Register(NFKC)
}

// Register makes n available by name. A later registration under the same
// name replaces the earlier one.
func Register(n Normalizer) {
	mu.Lock()
	defer mu.Unlock()
	registry[n.Name()] = n
}

// Lookup returns the normalizer registered under name.
func Lookup(name string) (Normalizer, error) {
	mu.RLock()
	defer mu.RUnlock()

	n, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown normalizer %q", name)
	}
	return n, nil
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
