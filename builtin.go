package colgo

import (
	"fmt"

	"github.com/hupe1980/colgo/internal/spec"
	"github.com/hupe1980/colgo/normalizer"
	"github.com/hupe1980/colgo/tokenizer"
)

// Built-in types.
const (
	TypeObject    ID = 2
	TypeBool      ID = 3
	TypeInt8      ID = 4
	TypeUInt8     ID = 5
	TypeInt16     ID = 6
	TypeUInt16    ID = 7
	TypeInt32     ID = 8
	TypeUInt32    ID = 9
	TypeInt64     ID = 10
	TypeUInt64    ID = 11
	TypeFloat     ID = 12
	TypeTime      ID = 13
	TypeShortText ID = 14
	TypeText      ID = 15
	TypeLongText  ID = 16
)

// Built-in procedures.
const (
	TokenDelimit        ID = 65
	TokenUnigram        ID = 66
	TokenBigram         ID = 67
	NormalizerAuto      ID = 80
	NormalizerNFKC      ID = 81
	TokenFilterStopWord ID = 96
)

type builtinType struct {
	id       ID
	name     string
	size     int
	variable bool
}

var builtinTypes = []builtinType{
	{TypeObject, "Object", 1 << 16, true},
	{TypeBool, "Bool", 1, false},
	{TypeInt8, "Int8", 1, false},
	{TypeUInt8, "UInt8", 1, false},
	{TypeInt16, "Int16", 2, false},
	{TypeUInt16, "UInt16", 2, false},
	{TypeInt32, "Int32", 4, false},
	{TypeUInt32, "UInt32", 4, false},
	{TypeInt64, "Int64", 8, false},
	{TypeUInt64, "UInt64", 8, false},
	{TypeFloat, "Float", 8, false},
	{TypeTime, "Time", 8, false},
	{TypeShortText, "ShortText", 1<<12 - 1, true},
	{TypeText, "Text", 1<<16 - 1, true},
	{TypeLongText, "LongText", 1<<31 - 1, true},
}

// Type is a value type. Built-in types have ids below FirstUserID.
type Type struct {
	object
	size int
}

// Size returns the byte width of a fixed-size type, or the maximum size of
// a variable-size one.
func (t *Type) Size() int { return t.size }

// Variable reports whether values of t have variable size.
func (t *Type) Variable() bool { return t.Header().Flags&FlagKeyVar != 0 }

func builtinName(id ID) string {
	return fmt.Sprintf("Sys%02X", uint32(id))
}

// newBuiltins creates the objects occupying the reserved id range.
func newBuiltins(db *Database) map[ID]Object {
	objs := make(map[ID]Object, len(builtinTypes)+6)

	for _, bt := range builtinTypes {
		flags := FlagPersistent
		if bt.variable {
			flags |= FlagKeyVar
		}
		t := &Type{size: bt.size}
		t.init(db, bt.id, &spec.Spec{
			Kind:      uint8(KindType),
			Flags:     uint32(flags),
			Name:      bt.name,
			ValueSize: bt.size,
		})
		t.builtin = true
		objs[bt.id] = t
	}

	procs := []*Proc{
		{kind: ProcTokenizer, tok: tokenizer.Delimit},
		{kind: ProcTokenizer, tok: tokenizer.Unigram},
		{kind: ProcTokenizer, tok: tokenizer.Bigram},
		{kind: ProcNormalizer, norm: normalizer.Auto},
		{kind: ProcNormalizer, norm: normalizer.NFKC},
		{kind: ProcTokenFilter, filter: newStopWordFilter},
	}
	ids := []ID{TokenDelimit, TokenUnigram, TokenBigram, NormalizerAuto, NormalizerNFKC, TokenFilterStopWord}
	names := []string{"TokenDelimit", "TokenUnigram", "TokenBigram", "NormalizerAuto", "NormalizerNFKC", "TokenFilterStopWord"}

	for i, p := range procs {
		p.init(db, ids[i], &spec.Spec{
			Kind:      uint8(KindProc),
			Flags:     uint32(FlagPersistent),
			Name:      names[i],
			ValueSize: int(p.kind),
		})
		p.builtin = true
		objs[ids[i]] = p
	}

	return objs
}

// reservedNames returns the names table keys for ids 1..FirstUserID-1 in
// id order.
func reservedNames(builtins map[ID]Object) []string {
	names := make([]string, 0, FirstUserID-1)
	for id := ID(1); id < FirstUserID; id++ {
		if obj, ok := builtins[id]; ok {
			names = append(names, obj.Name())
			continue
		}
		names = append(names, builtinName(id))
	}
	return names
}
