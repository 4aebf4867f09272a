package colgo

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/spf13/cast"
)

// valueType describes how values of a type id are stored.
type valueType struct {
	id       ID
	size     int
	variable bool
	// table is set when values are record ids of another table.
	table *Table
}

func (db *Database) valueType(id ID) (valueType, error) {
	if id == NilID {
		return valueType{}, nil
	}

	obj, err := db.Resolve(id)
	if err != nil {
		return valueType{}, err
	}
	switch o := obj.(type) {
	case *Type:
		return valueType{id: id, size: o.Size(), variable: o.Variable()}, nil
	case *Table:
		return valueType{id: id, size: 4, table: o}, nil
	default:
		return valueType{}, fmt.Errorf("%w: %d is not a type", ErrInvalidArgument, id)
	}
}

func (vt valueType) isText() bool {
	return vt.id == TypeShortText || vt.id == TypeText || vt.id == TypeLongText
}

func (vt valueType) isNumeric() bool {
	return vt.id >= TypeInt8 && vt.id <= TypeFloat
}

// plain unwraps ids so that cast sees an integer type.
func plain(v any) any {
	if id, ok := v.(ID); ok {
		return uint32(id)
	}
	return v
}

// encodeScalar converts v to the little-endian column representation of a
// built-in type.
func encodeScalar(vt valueType, v any) ([]byte, error) {
	v = plain(v)

	var (
		b   []byte
		err error
	)

	switch vt.id {
	case TypeBool:
		var x bool
		if x, err = cast.ToBoolE(v); err == nil {
			b = []byte{0}
			if x {
				b[0] = 1
			}
		}
	case TypeInt8:
		var x int8
		if x, err = cast.ToInt8E(v); err == nil {
			b = []byte{byte(x)}
		}
	case TypeUInt8:
		var x uint8
		if x, err = cast.ToUint8E(v); err == nil {
			b = []byte{x}
		}
	case TypeInt16:
		var x int16
		if x, err = cast.ToInt16E(v); err == nil {
			b = binary.LittleEndian.AppendUint16(nil, uint16(x))
		}
	case TypeUInt16:
		var x uint16
		if x, err = cast.ToUint16E(v); err == nil {
			b = binary.LittleEndian.AppendUint16(nil, x)
		}
	case TypeInt32:
		var x int32
		if x, err = cast.ToInt32E(v); err == nil {
			b = binary.LittleEndian.AppendUint32(nil, uint32(x))
		}
	case TypeUInt32:
		var x uint32
		if x, err = cast.ToUint32E(v); err == nil {
			b = binary.LittleEndian.AppendUint32(nil, x)
		}
	case TypeInt64:
		var x int64
		if x, err = cast.ToInt64E(v); err == nil {
			b = binary.LittleEndian.AppendUint64(nil, uint64(x))
		}
	case TypeUInt64:
		var x uint64
		if x, err = cast.ToUint64E(v); err == nil {
			b = binary.LittleEndian.AppendUint64(nil, x)
		}
	case TypeFloat:
		var x float64
		if x, err = cast.ToFloat64E(v); err == nil {
			b = binary.LittleEndian.AppendUint64(nil, math.Float64bits(x))
		}
	case TypeTime:
		var t time.Time
		if t, err = toTime(v); err == nil {
			b = binary.LittleEndian.AppendUint64(nil, uint64(t.UnixMicro()))
		}
	case TypeShortText, TypeText, TypeLongText:
		var s string
		if s, err = cast.ToStringE(v); err == nil {
			if len(s) > vt.size {
				return nil, fmt.Errorf("%w: text of %d bytes exceeds %d", ErrInvalidArgument, len(s), vt.size)
			}
			b = []byte(s)
		}
	default:
		switch x := v.(type) {
		case []byte:
			b = append([]byte(nil), x...)
		case string:
			b = []byte(x)
		default:
			err = fmt.Errorf("unable to store %T as raw bytes", v)
		}
		if err == nil && len(b) > vt.size {
			return nil, fmt.Errorf("%w: value of %d bytes exceeds %d", ErrInvalidArgument, len(b), vt.size)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return b, nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case float64:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)), nil
	default:
		return cast.ToTimeE(v)
	}
}

// decodeScalar is the inverse of encodeScalar. Empty input decodes to the
// zero value of the type.
func decodeScalar(vt valueType, b []byte) (any, error) {
	if vt.size > 0 && !vt.variable && len(b) == 0 {
		b = make([]byte, vt.size)
	}
	if !vt.variable && len(b) < vt.size {
		return nil, fmt.Errorf("%w: short value for type %d", ErrNeedsRepair, vt.id)
	}

	switch vt.id {
	case TypeBool:
		return b[0] != 0, nil
	case TypeInt8:
		return int8(b[0]), nil
	case TypeUInt8:
		return b[0], nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(b)), nil
	case TypeUInt16:
		return binary.LittleEndian.Uint16(b), nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(b)), nil
	case TypeUInt32:
		return binary.LittleEndian.Uint32(b), nil
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(b)), nil
	case TypeUInt64:
		return binary.LittleEndian.Uint64(b), nil
	case TypeFloat:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case TypeTime:
		return time.UnixMicro(int64(binary.LittleEndian.Uint64(b))).UTC(), nil
	case TypeShortText, TypeText, TypeLongText:
		return string(b), nil
	default:
		return append([]byte(nil), b...), nil
	}
}

// numericDelta applies an increment or decrement to an encoded numeric
// value.
func numericDelta(vt valueType, old []byte, delta any, mode SetMode) ([]byte, error) {
	if !vt.isNumeric() {
		return nil, fmt.Errorf("%w: increment on non-numeric type %d", ErrInvalidArgument, vt.id)
	}

	cur, err := decodeScalar(vt, old)
	if err != nil {
		return nil, err
	}

	sign := 1.0
	if mode == SetDecrement {
		sign = -1
	}

	if vt.id == TypeFloat {
		d, err := cast.ToFloat64E(plain(delta))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		return encodeScalar(vt, cur.(float64)+sign*d)
	}

	d, err := cast.ToInt64E(plain(delta))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if mode == SetDecrement {
		d = -d
	}

	switch x := cur.(type) {
	case int8:
		return encodeScalar(vt, int8(int64(x)+d))
	case uint8:
		return encodeScalar(vt, uint8(int64(x)+d))
	case int16:
		return encodeScalar(vt, int16(int64(x)+d))
	case uint16:
		return encodeScalar(vt, uint16(int64(x)+d))
	case int32:
		return encodeScalar(vt, int32(int64(x)+d))
	case uint32:
		return encodeScalar(vt, uint32(int64(x)+d))
	case int64:
		return encodeScalar(vt, x+d)
	case uint64:
		return encodeScalar(vt, uint64(int64(x)+d))
	default:
		return nil, fmt.Errorf("%w: increment on type %d", ErrInvalidArgument, vt.id)
	}
}

// encodeKey converts v into the byte-order-preserving key representation of
// a built-in key type.
func encodeKey(vt valueType, v any) ([]byte, error) {
	if vt.variable || vt.id == TypeBool || vt.id == TypeUInt8 {
		return encodeScalar(vt, v)
	}

	le, err := encodeScalar(vt, v)
	if err != nil {
		return nil, err
	}

	be := make([]byte, len(le))
	for i := range le {
		be[i] = le[len(le)-1-i]
	}

	switch vt.id {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeTime:
		be[0] ^= 0x80
	case TypeFloat:
		if be[0]&0x80 != 0 {
			for i := range be {
				be[i] = ^be[i]
			}
		} else {
			be[0] ^= 0x80
		}
	}
	return be, nil
}

func decodeKey(vt valueType, key []byte) (any, error) {
	if vt.variable || vt.id == TypeBool || vt.id == TypeUInt8 {
		return decodeScalar(vt, key)
	}
	if len(key) != vt.size {
		return nil, fmt.Errorf("%w: key of %d bytes for type %d", ErrNeedsRepair, len(key), vt.id)
	}

	be := append([]byte(nil), key...)
	switch vt.id {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeTime:
		be[0] ^= 0x80
	case TypeFloat:
		if be[0]&0x80 != 0 {
			be[0] ^= 0x80
		} else {
			for i := range be {
				be[i] = ^be[i]
			}
		}
	}

	le := make([]byte, len(be))
	for i := range be {
		le[i] = be[len(be)-1-i]
	}
	return decodeScalar(vt, le)
}

func encodeID(id ID) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(id))
}

func decodeID(b []byte) ID {
	if len(b) < 4 {
		return NilID
	}
	return ID(binary.LittleEndian.Uint32(b))
}

// encodeRefKey is the key of a record of a table keyed by another table.
func encodeRefKey(id ID) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(id))
}

func decodeRefKey(b []byte) ID {
	if len(b) < 4 {
		return NilID
	}
	return ID(binary.BigEndian.Uint32(b))
}

// toSlice turns any slice or array into []any. A nil value gives an empty
// slice and a non-slice value gives a single element.
func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return []any{b}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// encodeVector stores elements back to back. Fixed-size elements are
// concatenated; variable-size ones carry a uvarint length prefix.
func encodeVector(vt valueType, elems [][]byte) []byte {
	var out []byte
	for _, e := range elems {
		if vt.variable {
			out = binary.AppendUvarint(out, uint64(len(e)))
		}
		out = append(out, e...)
	}
	return out
}

func decodeVector(vt valueType, b []byte) ([][]byte, error) {
	var elems [][]byte
	for len(b) > 0 {
		if vt.variable {
			n, k := binary.Uvarint(b)
			if k <= 0 || uint64(len(b)-k) < n {
				return nil, fmt.Errorf("%w: truncated vector element", ErrNeedsRepair)
			}
			elems = append(elems, b[k:k+int(n)])
			b = b[k+int(n):]
			continue
		}
		if len(b) < vt.size || vt.size == 0 {
			return nil, fmt.Errorf("%w: truncated vector element", ErrNeedsRepair)
		}
		elems = append(elems, b[:vt.size])
		b = b[vt.size:]
	}
	return elems, nil
}
