package colgo

import "fmt"

// ID identifies an object or a record. Objects of one database share a
// single id space.
type ID uint32

const (
	// NilID is never assigned.
	NilID ID = 0
	// FirstUserID is the first id given to user objects. Lower ids are
	// built-in types and procedures.
	FirstUserID ID = 256
	// TemporaryIDBit marks ids of anonymous objects that are never
	// persisted.
	TemporaryIDBit ID = 0x40000000
)

// IsTemporary reports whether id names a temporary object.
func (id ID) IsTemporary() bool { return id&TemporaryIDBit != 0 }

// Ref is a generation-checked object reference. It stops resolving once
// the object is removed, even when its id is reused.
type Ref struct {
	ID  ID
	Gen uint32
}

// Kind is the storage variant of an object.
type Kind uint8

const (
	KindType Kind = iota + 1
	KindProc
	KindTableHash
	KindTablePat
	KindTableDat
	KindTableArray
	KindColumnFixed
	KindColumnVar
	KindColumnIndex
)

func (k Kind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindProc:
		return "proc"
	case KindTableHash:
		return "table_hash"
	case KindTablePat:
		return "table_pat"
	case KindTableDat:
		return "table_dat"
	case KindTableArray:
		return "table_array"
	case KindColumnFixed:
		return "column_fixed"
	case KindColumnVar:
		return "column_var"
	case KindColumnIndex:
		return "column_index"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsTable reports whether k is a table variant.
func (k Kind) IsTable() bool { return k >= KindTableHash && k <= KindTableArray }

// IsColumn reports whether k is a column variant.
func (k Kind) IsColumn() bool { return k >= KindColumnFixed && k <= KindColumnIndex }

// Flags modify an object's behavior.
type Flags uint32

const (
	FlagPersistent Flags = 1 << iota
	FlagColumnScalar
	FlagColumnVector
	FlagColumnIndex
	FlagWithSection
	FlagWithWeight
	FlagWithPosition
	FlagCompressZstd
	FlagCompressLZ4
	// FlagWithSubrec gives every record of a result table a score and a
	// sub-record count.
	FlagWithSubrec
	// FlagKeyVar marks a variable-size type.
	FlagKeyVar
)

// Header is the common description of every object.
type Header struct {
	Kind  Kind
	Flags Flags
	// Domain is the key type of a table or the owning table of a column.
	Domain ID
	// Range is the value type.
	Range ID
}

// HookEvent selects one of an object's hook chains.
type HookEvent uint8

const (
	HookSet HookEvent = iota
	HookGet
	HookInsert
	HookDelete
	HookSelect

	numHookEvents = 5
)

func (e HookEvent) String() string {
	switch e {
	case HookSet:
		return "set"
	case HookGet:
		return "get"
	case HookInsert:
		return "insert"
	case HookDelete:
		return "delete"
	case HookSelect:
		return "select"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// SetMode selects how SetValue combines the new value with the old one.
type SetMode uint8

const (
	SetReplace SetMode = iota
	SetIncrement
	SetDecrement
)

// Operator combines the postings of several query tokens.
type Operator uint8

const (
	OpAnd Operator = iota
	OpOr
)

// Object is a table, column, type or procedure. The concrete type is
// determined by Header().Kind: *Table, *Column, *Type or *Proc.
type Object interface {
	ID() ID
	Name() string
	Header() Header
	base() *object
}
