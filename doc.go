// Package colgo provides an embedded database of typed tables and columns
// with inverted indexes kept current by hooks.
//
// Every table, column, type and procedure is an object with a stable id.
// Objects are recorded as specs when created and materialized lazily on
// first use, so opening a large database is cheap.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := colgo.Create(ctx, "./data/db")
//	db, _ := colgo.Open(ctx, "./data/db")  // re-open existing
//
// # Tables and Columns
//
// Four table engines differ in key handling:
//
//   - KindTableHash: exact-match keys
//   - KindTablePat: ordered keys with prefix and range cursors
//   - KindTableDat: ordered keys, compact for read-mostly lexicons
//   - KindTableArray: no keys, records addressed by id
//
// Columns are scalar or vector. A column whose value type is a table
// stores record references:
//
//	users, _ := db.CreateTable("users", colgo.KindTablePat)
//	posts, _ := db.CreateTable("posts", colgo.KindTableHash)
//	author, _ := posts.CreateColumn("author", colgo.FlagColumnScalar, users.ID())
//	id, _, _ := posts.Add("p1")
//	author.SetValue(id, "alice", colgo.SetReplace) // adds "alice" to users
//
// # Full-text Indexes
//
// An index column lives in a lexicon table and lists the source columns it
// follows. Writes to a source update the postings before they return:
//
//	terms, _ := db.CreateTable("terms", colgo.KindTablePat,
//	    colgo.WithDefaultTokenizer(colgo.TokenBigram),
//	    colgo.WithNormalizer(colgo.NormalizerAuto))
//	idx, _ := terms.CreateColumn("idx", colgo.FlagColumnIndex|colgo.FlagWithPosition, posts.ID())
//	idx.SetSources(body.ID())
//	hits, _ := idx.Search("query")
//
// # Removal
//
// Remove refuses to delete an object that another object still depends on
// and returns a *ReferenceError naming the blocker. RemoveDependent removes
// the dependents first.
//
// # Durability Model
//
// Specs are appended to a log and synced before the creating call returns
// (DurabilitySync). A database that was not closed cleanly opens with
// NeedsRepair set; Repair rebuilds every index column from its sources.
package colgo
