// Package invert stores the postings of an index column: for every token id
// the set of record ids containing it, plus optional section, position and
// weight details.
package invert

import (
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/colgo/internal/fs"
	"github.com/hupe1980/colgo/internal/snapshot"
)

const magic = 0x494E5654 // "INVT"

// Posting is one occurrence of a token.
type Posting struct {
	RID     uint32
	Section uint32
	Pos     uint32
	Weight  uint32
}

type list struct {
	rids    *roaring.Bitmap
	counts  map[uint32]uint32
	details []Posting
}

func newList() *list {
	return &list{rids: roaring.New(), counts: make(map[uint32]uint32)}
}

// Index maps token ids to posting lists.
type Index struct {
	mu      sync.RWMutex
	details bool
	lists   map[uint32]*list
}

// New creates an empty index. With details set, every posting keeps its
// section, position and weight.
func New(details bool) *Index {
	return &Index{details: details, lists: make(map[uint32]*list)}
}

// Add records an occurrence of token.
func (x *Index) Add(token uint32, p Posting) {
	x.mu.Lock()
	defer x.mu.Unlock()

	l, ok := x.lists[token]
	if !ok {
		l = newList()
		x.lists[token] = l
	}

	l.rids.Add(p.RID)
	l.counts[p.RID]++
	if x.details {
		l.details = append(l.details, p)
	}
}

// Remove drops one occurrence of token previously recorded by Add. The
// record id leaves the list once all its occurrences are gone.
func (x *Index) Remove(token uint32, p Posting) {
	x.mu.Lock()
	defer x.mu.Unlock()

	l, ok := x.lists[token]
	if !ok || l.counts[p.RID] == 0 {
		return
	}

	if l.counts[p.RID]--; l.counts[p.RID] == 0 {
		delete(l.counts, p.RID)
		l.rids.Remove(p.RID)
	}

	if x.details {
		i := slices.IndexFunc(l.details, func(d Posting) bool {
			return d.RID == p.RID && d.Section == p.Section && d.Pos == p.Pos
		})
		if i >= 0 {
			l.details = slices.Delete(l.details, i, i+1)
		}
	}

	if l.rids.IsEmpty() {
		delete(x.lists, token)
	}
}

// PurgeRID removes every occurrence of rid from all lists.
func (x *Index) PurgeRID(rid uint32) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for token, l := range x.lists {
		if !l.rids.Contains(rid) {
			continue
		}
		l.rids.Remove(rid)
		delete(l.counts, rid)
		if x.details {
			l.details = slices.DeleteFunc(l.details, func(d Posting) bool { return d.RID == rid })
		}
		if l.rids.IsEmpty() {
			delete(x.lists, token)
		}
	}
}

// Drop removes the posting list of token.
func (x *Index) Drop(token uint32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.lists, token)
}

// RIDs returns the record ids containing token in ascending order.
func (x *Index) RIDs(token uint32) []uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	l, ok := x.lists[token]
	if !ok {
		return nil
	}
	return l.rids.ToArray()
}

// Contains reports whether rid has an occurrence of token.
func (x *Index) Contains(token, rid uint32) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	l, ok := x.lists[token]
	return ok && l.rids.Contains(rid)
}

// Count returns the number of occurrences of token in rid.
func (x *Index) Count(token, rid uint32) uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if l, ok := x.lists[token]; ok {
		return l.counts[rid]
	}
	return 0
}

// DocFreq returns the number of records containing token.
func (x *Index) DocFreq(token uint32) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if l, ok := x.lists[token]; ok {
		return l.rids.GetCardinality()
	}
	return 0
}

// Intersect returns the record ids containing all tokens.
func (x *Index) Intersect(tokens []uint32) []uint32 {
	if len(tokens) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	bms := make([]*roaring.Bitmap, 0, len(tokens))
	for _, token := range tokens {
		l, ok := x.lists[token]
		if !ok {
			return nil
		}
		bms = append(bms, l.rids)
	}
	if len(bms) == 1 {
		return bms[0].ToArray()
	}
	return roaring.FastAnd(bms...).ToArray()
}

// Union returns the record ids containing any of tokens.
func (x *Index) Union(tokens []uint32) []uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	bms := make([]*roaring.Bitmap, 0, len(tokens))
	for _, token := range tokens {
		if l, ok := x.lists[token]; ok {
			bms = append(bms, l.rids)
		}
	}
	if len(bms) == 0 {
		return nil
	}
	return roaring.FastOr(bms...).ToArray()
}

// Postings returns the detailed occurrences of token. It is empty unless
// the index was created with details.
func (x *Index) Postings(token uint32) []Posting {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if l, ok := x.lists[token]; ok {
		return slices.Clone(l.details)
	}
	return nil
}

// Tokens returns the token ids with at least one posting, ascending.
func (x *Index) Tokens() []uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	tokens := make([]uint32, 0, len(x.lists))
	for token := range x.lists {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)
	return tokens
}

// Truncate removes all postings.
func (x *Index) Truncate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.lists = make(map[uint32]*list)
}

func (x *Index) MarshalBinary() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	tokens := make([]uint32, 0, len(x.lists))
	for token := range x.lists {
		tokens = append(tokens, token)
	}
	slices.Sort(tokens)

	b := snapshot.NewBuffer(nil)
	if x.details {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
	b.WriteUint32(uint32(len(tokens)))

	for _, token := range tokens {
		l := x.lists[token]
		bm, err := l.rids.ToBytes()
		if err != nil {
			return nil, err
		}
		b.WriteUint32(token)
		b.WriteBytes(bm)

		for _, rid := range l.rids.ToArray() {
			b.WriteUint32(l.counts[rid])
		}

		b.WriteUint32(uint32(len(l.details)))
		for _, d := range l.details {
			b.WriteUint32(d.RID)
			b.WriteUint32(d.Section)
			b.WriteUint32(d.Pos)
			b.WriteUint32(d.Weight)
		}
	}
	return b.Bytes(), nil
}

func (x *Index) UnmarshalBinary(data []byte) error {
	b := snapshot.NewBuffer(data)
	details := b.ReadUint8() == 1
	n := int(b.ReadUint32())

	lists := make(map[uint32]*list, n)
	for i := 0; i < n && b.Err() == nil; i++ {
		token := b.ReadUint32()
		l := newList()
		if err := l.rids.UnmarshalBinary(b.ReadBytes()); err != nil {
			return fmt.Errorf("invert: token %d: %w", token, err)
		}
		for _, rid := range l.rids.ToArray() {
			l.counts[rid] = b.ReadUint32()
		}

		nd := int(b.ReadUint32())
		if nd > b.Remaining()/16 {
			return fmt.Errorf("invert: token %d: %d details exceed snapshot", token, nd)
		}
		for j := 0; j < nd; j++ {
			l.details = append(l.details, Posting{
				RID:     b.ReadUint32(),
				Section: b.ReadUint32(),
				Pos:     b.ReadUint32(),
				Weight:  b.ReadUint32(),
			})
		}
		lists[token] = l
	}
	if err := b.Err(); err != nil {
		return fmt.Errorf("invert: truncated snapshot: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.details = details
	x.lists = lists
	return nil
}

// Save writes a snapshot of x to path.
func Save(fsys fs.FileSystem, path string, x *Index) error {
	payload, err := x.MarshalBinary()
	if err != nil {
		return err
	}
	return snapshot.Save(fsys, path, magic, payload)
}

// Load restores x from the snapshot at path.
func Load(fsys fs.FileSystem, path string, x *Index) error {
	payload, err := snapshot.Load(fsys, path, magic)
	if err != nil {
		return err
	}
	return x.UnmarshalBinary(payload)
}
