package fleece

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Encoder serializes Value trees (or plain Go values) into the tag-prefixed
// binary form Parse understands, optionally sharing dict keys through a
// SharedKeys dictionary.
type Encoder struct {
	keys *SharedKeys
	buf  []byte
}

// NewEncoder creates an encoder. keys may be nil to always encode keys
// inline.
func NewEncoder(keys *SharedKeys) *Encoder {
	return &Encoder{keys: keys}
}

// Encode serializes a Value tree.
func (e *Encoder) Encode(v Value) []byte {
	e.buf = e.buf[:0]
	e.writeValue(v)
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

// EncodeGo serializes a plain Go value built from the usual JSON-ish types
// (nil, bool, float64/int, string, []byte, []any, map[string]any),
// matching what a document body typically looks like before it reaches the
// wire.
func (e *Encoder) EncodeGo(v any) ([]byte, error) {
	val, err := FromGo(v)
	if err != nil {
		return nil, err
	}
	return e.Encode(val), nil
}

// FromGo converts a plain Go value into a Value tree.
func FromGo(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case float64:
		return FloatValue(x), nil
	case string:
		return StringValue(x), nil
	case []byte:
		return DataValue(x), nil
	case []any:
		vals := make([]Value, len(x))
		for i, e := range x {
			cv, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			vals[i] = cv
		}
		return ArrayValue(vals), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := Value{typ: Dict}
		for _, k := range keys {
			cv, err := FromGo(x[k])
			if err != nil {
				return Value{}, err
			}
			d.dict = append(d.dict, dictEntry{key: k, value: cv})
		}
		return d, nil
	default:
		return Value{}, fmt.Errorf("fleece: cannot encode Go value of type %T", v)
	}
}

func (e *Encoder) writeByte(b byte) { e.buf = append(e.buf, b) }

func (e *Encoder) writeUvarint(n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmp[:], n)
	e.buf = append(e.buf, tmp[:l]...)
}

func (e *Encoder) writeBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) writeValue(v Value) {
	switch v.typ {
	case Missing, Null:
		e.writeByte(byte(Null))
	case Bool:
		e.writeByte(byte(Bool))
		if v.boolean {
			e.writeByte(1)
		} else {
			e.writeByte(0)
		}
	case Number:
		e.writeByte(byte(Number))
		var bits uint64
		if v.isFloat {
			e.writeByte(1)
			bits = math.Float64bits(v.f)
		} else {
			e.writeByte(0)
			bits = uint64(v.i)
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], bits)
		e.buf = append(e.buf, tmp[:]...)
	case String:
		e.writeByte(byte(String))
		e.writeBytes([]byte(v.str))
	case Data:
		e.writeByte(byte(Data))
		e.writeBytes(v.data)
	case Array:
		e.writeByte(byte(Array))
		e.writeUvarint(uint64(len(v.arr)))
		for _, elem := range v.arr {
			e.writeValue(elem)
		}
	case Dict:
		e.writeByte(byte(Dict))
		e.writeUvarint(uint64(len(v.dict)))
		for _, entry := range v.dict {
			e.writeKey(entry.key)
			e.writeValue(entry.value)
		}
	default:
		panic(fmt.Sprintf("fleece: cannot encode value of type %v", v.typ))
	}
}

func (e *Encoder) writeKey(key string) {
	if e.keys != nil {
		if id, ok := e.keys.Encode(key); ok {
			e.writeByte(keyShared)
			e.writeUvarint(id)
			return
		}
	}
	e.writeByte(keyInline)
	e.writeBytes([]byte(key))
}
