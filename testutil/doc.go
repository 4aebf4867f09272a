// Package testutil provides testing utilities for colgo.
//
// This package is intended for use in tests, examples and benchmarks only.
// It generates reproducible keys and text and computes the expected result
// of a term query by scanning documents.
//
// # Random Text Generation
//
//	rng := testutil.NewRNG(seed)
//	w := rng.Word()            // one word of the default vocabulary
//	s := rng.Sentence(8)       // eight words joined by spaces
//	docs := rng.Documents(100, 12)
//
// # Exact Search (Ground Truth)
//
//	want := testutil.MatchTerm(docs, "alpha")
package testutil
