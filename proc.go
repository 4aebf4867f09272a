package colgo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/colgo/internal/spec"
	"github.com/hupe1980/colgo/normalizer"
	"github.com/hupe1980/colgo/tokenizer"
)

// ProcKind is the role of a procedure object.
type ProcKind int

const (
	ProcTokenizer ProcKind = iota + 1
	ProcNormalizer
	ProcTokenFilter
	ProcFunction
)

func (k ProcKind) String() string {
	switch k {
	case ProcTokenizer:
		return "tokenizer"
	case ProcNormalizer:
		return "normalizer"
	case ProcTokenFilter:
		return "token_filter"
	case ProcFunction:
		return "function"
	default:
		return fmt.Sprintf("proc(%d)", int(k))
	}
}

// ProcFunc is the body of a function procedure. Attached through a
// ProcHook it runs on every event of the hooked object; a returned error
// aborts the operation that fired it.
type ProcFunc func(ctx *HookContext) error

// FilterFactory creates a token filter bound to the lexicon that uses it.
type FilterFactory func(lexicon *Table) tokenizer.Filter

// Proc is a tokenizer, normalizer, token filter or function. Built-in
// procs live in the reserved id range; the others come from plugins.
type Proc struct {
	object
	kind   ProcKind
	plugin string
	tok    tokenizer.Tokenizer
	norm   normalizer.Normalizer
	filter FilterFactory
	fn     ProcFunc
}

// Kind returns the role of p.
func (p *Proc) Kind() ProcKind { return p.kind }

// Plugin returns the name of the plugin that defines p, or "" for built-ins.
func (p *Proc) Plugin() string { return p.plugin }

type procDef struct {
	name   string
	kind   ProcKind
	tok    tokenizer.Tokenizer
	norm   normalizer.Normalizer
	filter FilterFactory
	fn     ProcFunc
}

// Plugin collects the procedures a plugin defines.
type Plugin struct {
	name  string
	procs []procDef
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.name }

// Tokenizer defines a tokenizer procedure.
func (p *Plugin) Tokenizer(name string, t tokenizer.Tokenizer) {
	p.procs = append(p.procs, procDef{name: name, kind: ProcTokenizer, tok: t})
}

// Normalizer defines a normalizer procedure.
func (p *Plugin) Normalizer(name string, n normalizer.Normalizer) {
	p.procs = append(p.procs, procDef{name: name, kind: ProcNormalizer, norm: n})
}

// TokenFilter defines a token filter procedure.
func (p *Plugin) TokenFilter(name string, f FilterFactory) {
	p.procs = append(p.procs, procDef{name: name, kind: ProcTokenFilter, filter: f})
}

// Function defines a function procedure.
func (p *Plugin) Function(name string, fn ProcFunc) {
	p.procs = append(p.procs, procDef{name: name, kind: ProcFunction, fn: fn})
}

func (p *Plugin) lookup(name string) (procDef, bool) {
	for _, d := range p.procs {
		if d.name == name {
			return d, true
		}
	}
	return procDef{}, false
}

type pluginEntry struct {
	once   sync.Once
	init   func(*Plugin)
	plugin *Plugin
}

var plugins = struct {
	mu sync.Mutex
	m  map[string]*pluginEntry
}{m: make(map[string]*pluginEntry)}

// RegisterPlugin makes a plugin available to every database in the
// process. init runs once, on first use.
func RegisterPlugin(name string, init func(*Plugin)) error {
	if name == "" || init == nil {
		return fmt.Errorf("%w: plugin needs a name and an init function", ErrInvalidArgument)
	}

	plugins.mu.Lock()
	defer plugins.mu.Unlock()

	if _, ok := plugins.m[name]; ok {
		return fmt.Errorf("%w: plugin %q", ErrExists, name)
	}
	plugins.m[name] = &pluginEntry{init: init}
	return nil
}

func lookupPlugin(name string) (*Plugin, error) {
	plugins.mu.Lock()
	e, ok := plugins.m[name]
	plugins.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: plugin %q", ErrNotFound, name)
	}
	e.once.Do(func() {
		p := &Plugin{name: name}
		e.init(p)
		e.plugin = p
	})
	return e.plugin, nil
}

func (p *Proc) bind(d procDef) {
	p.kind = d.kind
	p.tok = d.tok
	p.norm = d.norm
	p.filter = d.filter
	p.fn = d.fn
}

// LoadPlugin registers the procedures of a plugin in the database and
// returns them. Procedures that are already registered are reused.
func (db *Database) LoadPlugin(name string) ([]*Proc, error) {
	pl, err := lookupPlugin(name)
	if err != nil {
		return nil, err
	}

	procs := make([]*Proc, 0, len(pl.procs))
	for _, d := range pl.procs {
		obj, err := db.Lookup(d.name)
		switch {
		case err == nil:
			p, ok := obj.(*Proc)
			if !ok || p.plugin != name {
				return nil, fmt.Errorf("%w: %q is taken by another object", ErrExists, d.name)
			}
			procs = append(procs, p)
			continue
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}

		if err := validName(d.name, false); err != nil {
			return nil, err
		}

		p := &Proc{plugin: name}
		p.bind(d)
		sp := &spec.Spec{
			Kind:      uint8(KindProc),
			Flags:     uint32(FlagPersistent),
			Name:      d.name,
			Path:      name,
			ValueSize: int(d.kind),
		}
		if err := db.createPersistent(p, sp, nil); err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, nil
}

func (db *Database) openProc(id ID, sp *spec.Spec) (*Proc, error) {
	pl, err := lookupPlugin(sp.Path)
	if err != nil {
		return nil, err
	}
	d, ok := pl.lookup(sp.Name)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q has no proc %q", ErrNotFound, sp.Path, sp.Name)
	}
	if ProcKind(sp.ValueSize) != d.kind {
		return nil, fmt.Errorf("%w: proc %q changed kind from %s to %s",
			ErrNeedsRepair, sp.Name, ProcKind(sp.ValueSize), d.kind)
	}

	p := &Proc{plugin: sp.Path}
	p.bind(d)
	p.init(db, id, sp)
	return p, nil
}

// checkProc verifies that id names a procedure of the given kind. NilID
// passes.
func (db *Database) checkProc(id ID, kind ProcKind) error {
	if id == NilID {
		return nil
	}
	obj, err := db.Resolve(id)
	if err != nil {
		return err
	}
	p, ok := obj.(*Proc)
	if !ok || p.kind != kind {
		return fmt.Errorf("%w: object %d is not a %s", ErrInvalidArgument, id, kind)
	}
	return nil
}

// stopWordColumn is the lexicon column consulted by TokenFilterStopWord.
const stopWordColumn = "is_stop_word"

type stopWordFilter struct {
	lex *Table
}

func newStopWordFilter(lex *Table) tokenizer.Filter {
	return &stopWordFilter{lex: lex}
}

func (f *stopWordFilter) Name() string { return "TokenFilterStopWord" }

// Skip drops query tokens whose lexicon record has is_stop_word set.
// Indexing keeps them.
func (f *stopWordFilter) Skip(tok tokenizer.Token, mode tokenizer.Mode) bool {
	if mode != tokenizer.ModeGet {
		return false
	}
	col, err := f.lex.Column(stopWordColumn)
	if err != nil || col == nil {
		return false
	}
	id, err := f.lex.Get(tok.Text)
	if err != nil {
		return false
	}
	v, err := col.Value(id)
	if err != nil {
		return false
	}
	stop, _ := v.(bool)
	return stop
}
