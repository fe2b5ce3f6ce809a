// Package fleecesql registers the Fleece query bridge's host functions
// against an embedded SQL engine so it can index and filter documents
// without first materializing them to JSON.
//
// The real engine this was grounded on evaluates these functions inside
// SQLite via sqlite3_create_function, receiving raw sqlite3_value*
// arguments it inspects for a subtype tag. go-sqlite3's RegisterFunc only
// hands Go-native values to the callback, so the three accepted argument
// forms are modeled as:
//
//  1. A subtype-tagged direct pointer to an in-memory value tree  -> an
//     int64 handle into the process-local valueHandles table.
//  2. A subtype-tagged blob containing encoded bytes              -> a
//     []byte argument parsed directly with fleece.Parse.
//  3. A generic blob interpreted as a row body via a caller-supplied
//     accessor closure                                            -> a
//     []byte argument run through the RowAccessor registered at bind time.
package fleecesql

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inkwell-db/replicore/internal/fleece"
)

// RowAccessor extracts a document's encoded value from a row body. It
// returns the same bytes unchanged if the row body already *is* the
// encoded document (the common case); it exists so callers whose schema
// wraps the document in an envelope can unwrap it once, centrally.
type RowAccessor func(rowBody []byte) ([]byte, error)

// identityAccessor treats the blob argument as the encoded document itself.
func identityAccessor(rowBody []byte) ([]byte, error) { return rowBody, nil }

var (
	handleMu      sync.RWMutex
	valueHandles  = map[int64]fleece.Value{}
	nextHandle    int64
)

// PutHandle interns a value tree and returns an opaque handle a
// subexpression can pass back into another bridge function as its first
// argument, modeling form 1 above.
func PutHandle(v fleece.Value) int64 {
	id := atomic.AddInt64(&nextHandle, 1)
	handleMu.Lock()
	valueHandles[id] = v
	handleMu.Unlock()
	return id
}

// ReleaseHandle drops a handle once a query's row processing is done.
func ReleaseHandle(id int64) {
	handleMu.Lock()
	delete(valueHandles, id)
	handleMu.Unlock()
}

func lookupHandle(id int64) (fleece.Value, bool) {
	handleMu.RLock()
	v, ok := valueHandles[id]
	handleMu.RUnlock()
	return v, ok
}

// Bridge holds the shared keys dictionary and row accessor used to resolve
// the first argument of every registered function.
type Bridge struct {
	keys     *fleece.SharedKeys
	accessor RowAccessor
}

// NewBridge creates a bridge. keys may be nil if documents never use shared
// keys. A nil accessor defaults to treating blob arguments as already being
// the encoded document.
func NewBridge(keys *fleece.SharedKeys, accessor RowAccessor) *Bridge {
	if accessor == nil {
		accessor = identityAccessor
	}
	return &Bridge{keys: keys, accessor: accessor}
}

// resolveRoot implements the three-form argument adapter.
func (b *Bridge) resolveRoot(first any) (fleece.Value, error) {
	switch arg := first.(type) {
	case int64:
		v, ok := lookupHandle(arg)
		if !ok {
			return fleece.Value{}, fmt.Errorf("fleecesql: unknown value handle %d", arg)
		}
		return v, nil
	case []byte:
		if len(arg) == 0 {
			return fleece.Value{}, nil // missing
		}
		body, err := b.accessor(arg)
		if err != nil {
			return fleece.Value{}, err
		}
		return fleece.Parse(body, b.keys)
	case nil:
		return fleece.Value{}, nil
	default:
		return fleece.Value{}, fmt.Errorf("fleecesql: unsupported argument type %T", first)
	}
}

// resolvePath evaluates path against the root resolved from first.
func (b *Bridge) resolvePath(first any, path string) (fleece.Value, error) {
	root, err := b.resolveRoot(first)
	if err != nil {
		return fleece.Value{}, err
	}
	if root.IsMissing() {
		return fleece.Value{}, nil
	}
	return fleece.EvaluatePath(path, b.keys, root)
}

// nullBlob is the conventional SQL representation of an encoded Fleece
// null: a zero-length blob, distinguishing it from SQL NULL (which
// represents "missing"/"not found").
var nullBlob = []byte{}

// toSQL converts a resolved Value into the conventional SQL representation:
// nil for Missing, a zero-length blob for an encoded Fleece null, and a
// natively-typed value otherwise.
func toSQL(v fleece.Value) (any, error) {
	switch v.Type() {
	case fleece.Missing:
		return nil, nil
	case fleece.Null:
		return nullBlob, nil
	case fleece.Bool:
		b, _ := v.AsBool()
		return b, nil
	case fleece.Number:
		if v.IsInteger() {
			i, _ := v.AsInt()
			return i, nil
		}
		f, _ := v.AsFloat()
		return f, nil
	case fleece.String:
		s, _ := v.AsString()
		return s, nil
	case fleece.Data:
		d, _ := v.AsData()
		return d, nil
	case fleece.Array, fleece.Dict:
		enc := fleece.NewEncoder(nil)
		return enc.Encode(v), nil
	default:
		return nil, fmt.Errorf("fleecesql: cannot convert value of type %v to SQL", v.Type())
	}
}
