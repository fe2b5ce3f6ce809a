package fleecesql

import (
	"encoding/base64"
	"math"
	"regexp"

	"github.com/google/uuid"

	"github.com/inkwell-db/replicore/internal/fleece"
)

// flValue implements fl_value(root, path): evaluate path against root and
// return it in SQL representation.
func (b *Bridge) flValue(root any, path string) (any, error) {
	v, err := b.resolvePath(root, path)
	if err != nil {
		return nil, err
	}
	return toSQL(v)
}

// flExists implements fl_exists(root, path): 1 if path resolves to anything
// other than Missing, 0 otherwise. Unlike fl_value, this never itself
// returns SQL NULL, so it can be used directly in a WHERE clause.
func (b *Bridge) flExists(root any, path string) (int64, error) {
	v, err := b.resolvePath(root, path)
	if err != nil {
		return 0, err
	}
	if v.IsMissing() {
		return 0, nil
	}
	return 1, nil
}

// flType implements fl_type(root, path), returning a short type name or
// NULL if the path does not resolve.
func (b *Bridge) flType(root any, path string) (any, error) {
	v, err := b.resolvePath(root, path)
	if err != nil {
		return nil, err
	}
	if v.IsMissing() {
		return nil, nil
	}
	return v.Type().String(), nil
}

// flCount implements fl_count(root, path): the element count of an array or
// dict at path, or NULL if the path does not resolve to a collection.
func (b *Bridge) flCount(root any, path string) (any, error) {
	v, err := b.resolvePath(root, path)
	if err != nil {
		return nil, err
	}
	if v.Type() != fleece.Array && v.Type() != fleece.Dict {
		return nil, nil
	}
	return int64(v.Count()), nil
}

// flContains implements fl_contains(root, path, all?, v1, v2, …): 1 if the
// array at path contains the needle values, 0 otherwise (including when
// path is not an array). When all is nonzero every needle must appear
// (AND); otherwise any single match is enough (OR). An empty needle list
// is vacuously satisfied under AND and unsatisfied under OR.
func (b *Bridge) flContains(root any, path string, all int64, needles ...any) (int64, error) {
	v, err := b.resolvePath(root, path)
	if err != nil {
		return 0, err
	}
	if v.Type() != fleece.Array {
		return 0, nil
	}
	elems, err := collectArrayElements(v)
	if err != nil {
		return 0, err
	}

	matchAll := all != 0
	for _, needle := range needles {
		found := false
		for _, elem := range elems {
			if elementEqualsSQL(elem, needle) {
				found = true
				break
			}
		}
		if found && !matchAll {
			return 1, nil
		}
		if !found && matchAll {
			return 0, nil
		}
	}
	if matchAll {
		return 1, nil
	}
	return 0, nil
}

// collectArrayElements materializes v's elements for repeated scanning;
// fl_contains needs to walk the array once per needle when matching all.
func collectArrayElements(v fleece.Value) ([]fleece.Value, error) {
	it, _ := fleece.NewArrayIterator(v)
	var out []fleece.Value
	for {
		elem, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, elem)
	}
	return out, nil
}

// elementEqualsSQL compares a Fleece array element against a value bound
// from SQL (string, int64, float64, nil, or []byte), matching by type the
// way equalSQL compares two already-resolved SQL values.
func elementEqualsSQL(elem fleece.Value, target any) bool {
	switch tv := target.(type) {
	case nil:
		return elem.Type() == fleece.Null || elem.IsMissing()
	case string:
		s, ok := elem.AsString()
		return ok && s == tv
	case []byte:
		s, ok := elem.AsString()
		return ok && s == string(tv)
	case int64:
		f, ok := elem.AsFloat()
		return ok && f == float64(tv)
	case float64:
		f, ok := elem.AsFloat()
		return ok && f == tv
	case bool:
		bv, ok := elem.AsBool()
		return ok && bv == tv
	default:
		return false
	}
}

// arrayNumbers resolves root to an array and returns its numeric elements
// as float64, skipping non-numeric elements.
func (b *Bridge) arrayNumbers(root any) ([]float64, error) {
	v, err := b.resolveRoot(root)
	if err != nil {
		return nil, err
	}
	if v.Type() != fleece.Array {
		return nil, nil
	}
	it, _ := fleece.NewArrayIterator(v)
	var out []float64
	for {
		elem, ok := it.Next()
		if !ok {
			break
		}
		if f, ok := elem.AsFloat(); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (b *Bridge) arraySum(root any) (float64, error) {
	nums, err := b.arrayNumbers(root)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum, nil
}

func (b *Bridge) arrayAvg(root any) (any, error) {
	nums, err := b.arrayNumbers(root)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums)), nil
}

func (b *Bridge) arrayMin(root any) (any, error) {
	nums, err := b.arrayNumbers(root)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n < m {
			m = n
		}
	}
	return m, nil
}

func (b *Bridge) arrayMax(root any) (any, error) {
	nums, err := b.arrayNumbers(root)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n > m {
			m = n
		}
	}
	return m, nil
}

func (b *Bridge) arrayCount(root any) (int64, error) {
	v, err := b.resolveRoot(root)
	if err != nil {
		return 0, err
	}
	if v.Type() != fleece.Array {
		return 0, nil
	}
	return int64(v.Count()), nil
}

func (b *Bridge) arrayLength(root any) (int64, error) {
	return b.arrayCount(root)
}

func (b *Bridge) arrayContains(root any, needle string) (int64, error) {
	v, err := b.resolveRoot(root)
	if err != nil {
		return 0, err
	}
	if v.Type() != fleece.Array {
		return 0, nil
	}
	it, _ := fleece.NewArrayIterator(v)
	for {
		elem, ok := it.Next()
		if !ok {
			break
		}
		if s, ok := elem.AsString(); ok && s == needle {
			return 1, nil
		}
	}
	return 0, nil
}

func (b *Bridge) arrayIfnull(root any, fallback any) (any, error) {
	v, err := b.resolveRoot(root)
	if err != nil {
		return nil, err
	}
	if v.IsMissing() || v.Type() == fleece.Null {
		return fallback, nil
	}
	return toSQL(v)
}

// missingif, nullif, nanif, neginfif and posinfif all share the same shape:
// compare two already-resolved numeric or textual args, and substitute a
// sentinel if they're equal. The real engine this was grounded on had a bug
// where these fell through to a second comparison after a match; the fix
// is to return immediately on the first match.

func missingif(a, c any) (any, error) {
	if equalSQL(a, c) {
		return nil, nil
	}
	return a, nil
}

func nullif(a, c any) (any, error) {
	if equalSQL(a, c) {
		return nullBlob, nil
	}
	return a, nil
}

func nanif(a, c any) (any, error) {
	if equalSQL(a, c) {
		return nan, nil
	}
	return a, nil
}

func neginfif(a, c any) (any, error) {
	if equalSQL(a, c) {
		return negInf, nil
	}
	return a, nil
}

func posinfif(a, c any) (any, error) {
	if equalSQL(a, c) {
		return posInf, nil
	}
	return a, nil
}

var (
	nan    = math.NaN()
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)

func ifinf(a float64) int64 {
	if a == posInf || a == negInf {
		return 1
	}
	return 0
}

func ifnan(a float64) int64 {
	if a != a { // NaN is the only float that doesn't equal itself
		return 1
	}
	return 0
}

func ifnanorinf(a float64) int64 {
	return ifnan(a) | ifinf(a)
}

func equalSQL(a, c any) bool {
	switch av := a.(type) {
	case float64:
		cv, ok := toFloat(c)
		return ok && av == cv
	case int64:
		cv, ok := toFloat(c)
		return ok && float64(av) == cv
	case string:
		cv, ok := c.(string)
		return ok && av == cv
	case nil:
		return c == nil
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func uuidFunc() (string, error) {
	return uuid.NewString(), nil
}

func regexpLike(pattern, s string) (int64, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}
	if re.MatchString(s) {
		return 1, nil
	}
	return 0, nil
}
