package colgo

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cast"

	"github.com/hupe1980/colgo/internal/invert"
	"github.com/hupe1980/colgo/internal/spec"
	"github.com/hupe1980/colgo/tokenizer"
)

// Posting is one occurrence of a token in an indexed record. Section,
// position and weight are only kept by index columns created with the
// matching flags.
type Posting struct {
	RID     ID
	Section uint32
	Pos     uint32
	Weight  uint32
}

type tokenOp uint8

const (
	tokenAdd tokenOp = iota
	tokenDelete
	tokenSearch
)

type occurrence struct {
	token uint32
	pos   uint32
}

func (c *Column) requireIndex() error {
	if c.index == nil {
		return fmt.Errorf("%w: %q is not an index column", ErrInvalidArgument, c.Name())
	}
	return nil
}

// Lexicon returns the table whose records are the tokens of c.
func (c *Column) Lexicon() (*Table, error) {
	if err := c.requireIndex(); err != nil {
		return nil, err
	}
	return c.Table()
}

// Sources returns the ids of the objects c indexes. A table id stands for
// the table's keys.
func (c *Column) Sources() []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]ID, len(c.sp.Sources))
	for i, id := range c.sp.Sources {
		ids[i] = ID(id)
	}
	return ids
}

// SetSources replaces the sources of an index column and rebuilds its
// postings. Each source is the indexed table itself (its keys) or one of
// its columns. Key sources get insert and delete hooks, column sources a
// set hook; hooks of previous sources are detached.
func (c *Column) SetSources(ids ...ID) error {
	if err := c.requireIndex(); err != nil {
		return err
	}
	if err := c.attachSources(ids); err != nil {
		return err
	}
	return c.Reindex()
}

func (c *Column) attachSources(ids []ID) error {
	db := c.db
	db.ddl.Lock()
	defer db.ddl.Unlock()

	indexed := c.Header().Range

	srcs := make([]*object, len(ids))
	for i, id := range ids {
		obj, err := db.Resolve(id)
		if err != nil {
			return err
		}
		switch o := obj.(type) {
		case *Table:
			if o.id != indexed {
				return fmt.Errorf("%w: source table %d is not the indexed table %d", ErrInvalidArgument, id, indexed)
			}
			if o.isArray() {
				return fmt.Errorf("%w: array tables have no key to index", ErrInvalidArgument)
			}
		case *Column:
			if o.index != nil || o.Header().Domain != indexed {
				return fmt.Errorf("%w: source column %d does not belong to table %d", ErrInvalidArgument, id, indexed)
			}
		default:
			return fmt.Errorf("%w: source %d is neither a table nor a column", ErrInvalidArgument, id)
		}
		srcs[i] = obj.base()
	}

	for _, old := range c.Sources() {
		if obj := db.At(old); obj != nil {
			if err := obj.base().detachIndexHooks(c.id); err != nil {
				return err
			}
		}
	}

	for i, src := range srcs {
		h := IndexHook{Target: c.id, Section: uint32(i + 1)}.spec()
		isTable := Kind(src.Header().Kind).IsTable()
		if err := src.updateSpec(func(sp *spec.Spec) {
			if isTable {
				sp.Hooks[HookInsert] = append(sp.Hooks[HookInsert], h)
				sp.Hooks[HookDelete] = append(sp.Hooks[HookDelete], h)
			} else {
				sp.Hooks[HookSet] = append(sp.Hooks[HookSet], h)
			}
		}); err != nil {
			return err
		}
	}

	return c.updateSpec(func(sp *spec.Spec) {
		sp.Sources = make([]uint32, len(ids))
		for i, id := range ids {
			sp.Sources[i] = uint32(id)
		}
	})
}

// updateIndex replaces the postings derived from oldv with those derived
// from newv for record id of source src.
func (c *Column) updateIndex(src Object, section uint32, id ID, oldv, newv []byte) error {
	lex, err := c.Table()
	if err != nil {
		return err
	}

	release, err := c.io.acquire()
	if err != nil {
		return err
	}
	defer release()

	flags := c.flags()
	posting := func(o occurrence) (uint32, Posting) {
		p := Posting{RID: id}
		if flags&FlagWithSection != 0 {
			p.Section = section
		}
		if flags&FlagWithPosition != 0 {
			p.Pos = o.pos
		}
		if flags&FlagWithWeight != 0 {
			p.Weight = 1
		}
		return o.token, p
	}

	if len(oldv) > 0 {
		occs, err := c.sourceTokens(lex, src, oldv, tokenDelete)
		if err != nil {
			return err
		}
		for _, o := range occs {
			token, p := posting(o)
			c.index.Remove(token, toInvert(p))
		}
	}
	if len(newv) > 0 {
		occs, err := c.sourceTokens(lex, src, newv, tokenAdd)
		if err != nil {
			return err
		}
		for _, o := range occs {
			token, p := posting(o)
			c.index.Add(token, toInvert(p))
		}
	}

	c.dirty.Store(true)
	return nil
}

// sourceTokens derives token occurrences from an encoded value of src.
func (c *Column) sourceTokens(lex *Table, src Object, value []byte, op tokenOp) ([]occurrence, error) {
	var (
		typeID ID
		vector bool
		refKey bool
	)
	switch s := src.(type) {
	case *Table:
		typeID = s.Header().Domain
		refKey = true
	case *Column:
		typeID = s.Header().Range
		vector = s.isVector()
	default:
		return nil, fmt.Errorf("%w: source %d", ErrInvalidArgument, src.ID())
	}

	vt, err := c.db.valueType(typeID)
	if err != nil {
		return nil, err
	}

	elems := [][]byte{value}
	if vector {
		if elems, err = decodeVector(vt, value); err != nil {
			return nil, err
		}
	}

	var (
		occs []occurrence
		base uint32
	)
	for _, elem := range elems {
		if vt.table != nil && vt.table.id == lex.id {
			token := decodeID(elem)
			if refKey {
				token = decodeRefKey(elem)
			}
			if token != NilID {
				occs = append(occs, occurrence{token: uint32(token), pos: base})
			}
			base++
			continue
		}

		var v any
		switch {
		case refKey && vt.table != nil:
			v = decodeRefKey(elem)
		case refKey:
			if v, err = decodeKey(vt, elem); err != nil {
				return nil, err
			}
		default:
			if v, err = decodeElem(vt, elem); err != nil {
				return nil, err
			}
		}

		next, err := lexiconTokens(lex, v, op, base)
		if err != nil {
			return nil, err
		}
		occs = append(occs, next...)
		base += uint32(len(next)) + 1
	}
	return occs, nil
}

// lexiconTokens maps a value to lexicon record ids. Text is normalized and
// tokenized with the lexicon's tokenizer; other values are one token.
// Adding creates missing lexicon records; deleting and searching only look
// them up.
func lexiconTokens(lex *Table, v any, op tokenOp, base uint32) ([]occurrence, error) {
	lookup := func(key any) (uint32, bool, error) {
		if op == tokenAdd {
			id, _, err := lex.Add(key)
			if err != nil {
				return 0, false, err
			}
			return uint32(id), true, nil
		}
		id, err := lex.Get(key)
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return uint32(id), true, nil
	}

	kt, err := lex.keyType()
	if err != nil {
		return nil, err
	}
	tok := lex.Tokenizer()

	s, isText := v.(string)
	if !isText || tok == nil || !kt.isText() {
		if isText && s == "" {
			return nil, nil
		}
		id, ok, err := lookup(v)
		if err != nil || !ok {
			return nil, err
		}
		return []occurrence{{token: id, pos: base}}, nil
	}

	mode := tokenizer.ModeAdd
	if op == tokenSearch {
		mode = tokenizer.ModeGet
	}

	var occs []occurrence
	for _, t := range tokenizer.Collect(tok, lex.normalize(s), mode, lex.tokenFilters()...) {
		id, ok, err := lookup(t.Text)
		if err != nil {
			return nil, err
		}
		if ok {
			occs = append(occs, occurrence{token: id, pos: base + t.Pos})
		}
	}
	return occs, nil
}

// queryTokens maps a query to lexicon token ids. ok is false when some
// token is not in the lexicon.
func (c *Column) queryTokens(query any) (tokens []uint32, ok bool, err error) {
	lex, err := c.Table()
	if err != nil {
		return nil, false, err
	}

	if id, isID := query.(ID); isID {
		return []uint32{uint32(id)}, lex.Exists(id), nil
	}

	if s, isText := query.(string); isText && lex.Tokenizer() != nil {
		want := len(tokenizer.Collect(lex.Tokenizer(), lex.normalize(s), tokenizer.ModeGet, lex.tokenFilters()...))
		occs, err := lexiconTokens(lex, s, tokenSearch, 0)
		if err != nil {
			return nil, false, err
		}
		for _, o := range occs {
			tokens = append(tokens, o.token)
		}
		return tokens, len(occs) == want && want > 0, nil
	}

	kt, err := lex.keyType()
	if err != nil {
		return nil, false, err
	}
	if kt.isText() {
		if query, err = cast.ToStringE(plain(query)); err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	occs, err := lexiconTokens(lex, query, tokenSearch, 0)
	if err != nil {
		return nil, false, err
	}
	if len(occs) == 0 {
		return nil, false, nil
	}
	return []uint32{occs[0].token}, true, nil
}

// Search returns the ids of records containing every token of query, in
// ascending order. Text queries are tokenized like indexed values; any
// other value, or a lexicon record id, is a single token.
func (c *Column) Search(query any) ([]ID, error) {
	start := time.Now()
	ids, err := c.search(query)
	c.db.metrics.RecordSearch(len(ids), time.Since(start), err)
	return ids, err
}

func (c *Column) search(query any) ([]ID, error) {
	if err := c.requireIndex(); err != nil {
		return nil, err
	}
	tokens, ok, err := c.queryTokens(query)
	if err != nil || !ok {
		return nil, err
	}
	return toIDs(c.index.Intersect(tokens)), nil
}

// SearchResult runs a query and returns a temporary hash table keyed by the
// matching records of the indexed table. Each result record's score is the
// number of token occurrences it contains. The caller closes the table.
func (c *Column) SearchResult(query any, op Operator) (*Table, error) {
	start := time.Now()
	res, err := c.searchResult(query, op)
	hits := 0
	if res != nil {
		hits = res.Size()
	}
	c.db.metrics.RecordSearch(hits, time.Since(start), err)
	return res, err
}

func (c *Column) searchResult(query any, op Operator) (*Table, error) {
	if err := c.requireIndex(); err != nil {
		return nil, err
	}

	tokens, ok, err := c.queryTokens(query)
	if err != nil {
		return nil, err
	}

	var rids []uint32
	switch {
	case op == OpOr:
		rids = c.index.Union(tokens)
	case ok:
		rids = c.index.Intersect(tokens)
	}

	res, err := c.db.CreateTable("", KindTableHash,
		WithKeyType(c.Header().Range), WithTableFlags(FlagWithSubrec))
	if err != nil {
		return nil, err
	}

	for _, rid := range rids {
		id, _, err := res.Add(ID(rid))
		if err != nil {
			res.Close()
			return nil, err
		}
		score := 0.0
		for _, token := range tokens {
			score += float64(c.index.Count(token, rid))
		}
		if err := res.accumulate(id, score, 1); err != nil {
			res.Close()
			return nil, err
		}
	}
	return res, nil
}

// Postings returns the detailed postings of a token given as a lexicon key
// or record id.
func (c *Column) Postings(token any) ([]Posting, error) {
	if err := c.requireIndex(); err != nil {
		return nil, err
	}
	lex, err := c.Table()
	if err != nil {
		return nil, err
	}
	id, err := lex.resolveRecord(token, false)
	if err != nil {
		return nil, err
	}

	raw := c.index.Postings(uint32(id))
	if raw == nil && !indexDetails(c.flags()) {
		for _, rid := range c.index.RIDs(uint32(id)) {
			raw = append(raw, invert.Posting{RID: rid})
		}
	}

	out := make([]Posting, len(raw))
	for i, p := range raw {
		out[i] = Posting{RID: ID(p.RID), Section: p.Section, Pos: p.Pos, Weight: p.Weight}
	}
	return out, nil
}

// Reindex drops all postings and rebuilds them from the sources.
func (c *Column) Reindex() error {
	if err := c.requireIndex(); err != nil {
		return err
	}

	obj, err := c.db.Resolve(c.Header().Range)
	if err != nil {
		return err
	}
	indexed, ok := obj.(*Table)
	if !ok {
		return fmt.Errorf("%w: index %q has no indexed table", ErrNeedsRepair, c.Name())
	}

	c.index.Truncate()
	c.dirty.Store(true)

	for i, sid := range c.Sources() {
		src, err := c.db.Resolve(sid)
		if err != nil {
			return err
		}
		if src == nil {
			continue
		}

		cur, err := indexed.Cursor(WithOrderByID())
		if err != nil {
			return err
		}
		for cur.Next() {
			rid := cur.ID()
			var value []byte
			switch s := src.(type) {
			case *Table:
				value, _ = s.engine.Key(uint32(rid))
			case *Column:
				if value, err = s.store.Get(uint32(rid)); err != nil {
					cur.Close()
					return translateError(err)
				}
			}
			if err := c.updateIndex(src, uint32(i+1), rid, nil, value); err != nil {
				cur.Close()
				return err
			}
		}
		cur.Close()
	}
	return nil
}

// clearReferences removes lexicon record id from every reference column
// that c indexes, using c's postings to find the referencing records.
func (c *Column) clearReferences(id ID) error {
	rids := c.index.RIDs(uint32(id))
	if len(rids) == 0 {
		return nil
	}

	lexID := c.Header().Domain
	for _, sid := range c.Sources() {
		src, ok := c.db.At(sid).(*Column)
		if !ok || src.Header().Range != lexID {
			continue
		}
		for _, rid := range rids {
			if err := src.removeReference(ID(rid), id); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropToken removes the postings of a deleted lexicon record.
func (c *Column) dropToken(id ID) {
	c.index.Drop(uint32(id))
	c.dirty.Store(true)
}

func toInvert(p Posting) invert.Posting {
	return invert.Posting{RID: uint32(p.RID), Section: p.Section, Pos: p.Pos, Weight: p.Weight}
}

func toIDs(raw []uint32) []ID {
	ids := make([]ID, len(raw))
	for i, v := range raw {
		ids[i] = ID(v)
	}
	return slices.Clip(ids)
}
