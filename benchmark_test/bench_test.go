package benchmark_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hupe1980/colgo"
	"github.com/hupe1980/colgo/testutil"
)

type fulltext struct {
	db   *colgo.Database
	docs *colgo.Table
	body *colgo.Column
	idx  *colgo.Column
}

func openFulltext(b *testing.B, opts ...colgo.Option) fulltext {
	b.Helper()

	db, err := colgo.Create(context.Background(), filepath.Join(b.TempDir(), "db"), opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { db.Close() })

	docs, err := db.CreateTable("docs", colgo.KindTableHash)
	if err != nil {
		b.Fatal(err)
	}
	body, err := docs.CreateColumn("body", colgo.FlagColumnScalar, colgo.TypeText)
	if err != nil {
		b.Fatal(err)
	}
	terms, err := db.CreateTable("terms", colgo.KindTablePat,
		colgo.WithDefaultTokenizer(colgo.TokenDelimit), colgo.WithNormalizer(colgo.NormalizerAuto))
	if err != nil {
		b.Fatal(err)
	}
	idx, err := terms.CreateColumn("idx", colgo.FlagColumnIndex|colgo.FlagWithPosition, docs.ID())
	if err != nil {
		b.Fatal(err)
	}
	if err := idx.SetSources(body.ID()); err != nil {
		b.Fatal(err)
	}
	return fulltext{db: db, docs: docs, body: body, idx: idx}
}

func BenchmarkAdd(b *testing.B) {
	for _, kind := range []colgo.Kind{colgo.KindTableHash, colgo.KindTablePat, colgo.KindTableDat} {
		b.Run(kind.String(), func(b *testing.B) {
			db, err := colgo.Create(context.Background(), filepath.Join(b.TempDir(), "db"))
			if err != nil {
				b.Fatal(err)
			}
			defer db.Close()

			t, err := db.CreateTable("t", kind)
			if err != nil {
				b.Fatal(err)
			}
			keys := testutil.NewRNG(42).Keys("k", 10000)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := t.Add(keys[i%len(keys)]); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkIndexedSetValue(b *testing.B) {
	f := openFulltext(b, colgo.WithDurability(colgo.DurabilityAsync))
	docs := testutil.NewRNG(42).Documents(1000, 16)

	ids := make([]colgo.ID, len(docs))
	for i := range ids {
		id, _, err := f.docs.Add(fmt.Sprintf("d%d", i))
		if err != nil {
			b.Fatal(err)
		}
		ids[i] = id
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % len(docs)
		if err := f.body.SetValue(ids[j], docs[(i+7)%len(docs)], colgo.SetReplace); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	f := openFulltext(b)
	rng := testutil.NewRNG(42)

	for i, text := range rng.Documents(5000, 12) {
		id, _, err := f.docs.Add(fmt.Sprintf("d%d", i))
		if err != nil {
			b.Fatal(err)
		}
		if err := f.body.SetValue(id, text, colgo.SetReplace); err != nil {
			b.Fatal(err)
		}
	}

	queries := make([]string, 64)
	for i := range queries {
		queries[i] = rng.Sentence(1 + i%2)
	}

	b.Run("Search", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := f.idx.Search(queries[i%len(queries)]); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("SearchResult", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			res, err := f.idx.SearchResult(queries[i%len(queries)], colgo.OpOr)
			if err != nil {
				b.Fatal(err)
			}
			res.Close()
		}
	})
}

// BenchmarkOpen measures opening a database with many objects and touching
// one of them. Only the touched object is materialized.
func BenchmarkOpen(b *testing.B) {
	for _, n := range []int{10, 100} {
		b.Run(fmt.Sprintf("tables=%d", n), func(b *testing.B) {
			ctx := context.Background()
			path := filepath.Join(b.TempDir(), "db")

			db, err := colgo.Create(ctx, path)
			if err != nil {
				b.Fatal(err)
			}
			for i := range n {
				t, err := db.CreateTable(fmt.Sprintf("t%d", i), colgo.KindTableHash)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := t.CreateColumn("c", colgo.FlagColumnScalar, colgo.TypeInt64); err != nil {
					b.Fatal(err)
				}
			}
			if err := db.Close(); err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				db, err := colgo.Open(ctx, path)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := db.Lookup("t0.c"); err != nil {
					b.Fatal(err)
				}
				db.Close()
			}
		})
	}
}
