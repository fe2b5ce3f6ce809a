package fleece

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a compiled JSON-path-like expression over a value tree, e.g.
// ".addresses[0].city". A leading "$" is accepted and ignored, matching the
// common convention for path arguments passed to the query bridge.
type Path struct {
	segments []pathSegment
}

type pathSegment struct {
	key     string // set when isIndex is false
	index   int
	isIndex bool
}

// ParsePath compiles a path string. It accepts dotted property names and
// bracketed array indexes, e.g. ".a.b[2].c" or "a.b[2].c".
func ParsePath(path string) (Path, error) {
	s := strings.TrimPrefix(path, "$")
	var segs []pathSegment
	i := 0
	for i < len(s) {
		switch {
		case s[i] == '.':
			i++
		case s[i] == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Path{}, fmt.Errorf("fleece: unterminated '[' in path %q", path)
			}
			numStr := s[i+1 : i+end]
			idx, err := strconv.Atoi(numStr)
			if err != nil {
				return Path{}, fmt.Errorf("fleece: bad array index %q in path %q", numStr, path)
			}
			segs = append(segs, pathSegment{isIndex: true, index: idx})
			i += end + 1
		default:
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			if j > i {
				segs = append(segs, pathSegment{key: s[i:j]})
			}
			i = j
		}
	}
	return Path{segments: segs}, nil
}

// MustParsePath is ParsePath but panics on error; useful for constant paths.
func MustParsePath(path string) Path {
	p, err := ParsePath(path)
	if err != nil {
		panic(err)
	}
	return p
}

// Eval walks root following the compiled path. It returns a Missing value
// (Value{}.IsMissing() == true) if any segment does not resolve, which the
// SQL bridge maps to NULL — distinct from an encoded Fleece null, which
// resolves successfully to a Null-typed value.
func (p Path) Eval(root Value) Value {
	cur := root
	for _, seg := range p.segments {
		if seg.isIndex {
			if cur.Type() != Array {
				return Value{}
			}
			cur = cur.Index(seg.index)
		} else {
			if cur.Type() != Dict {
				return Value{}
			}
			cur = cur.Get(seg.key)
		}
		if cur.IsMissing() {
			return Value{}
		}
	}
	return cur
}

// EvaluatePath parses and evaluates path against root in one step. keys is
// accepted to mirror the narrow external interface host functions expect
// (the root Value already carries its own SharedKeys reference from
// Parse, so it is otherwise unused here).
func EvaluatePath(path string, keys *SharedKeys, root Value) (Value, error) {
	p, err := ParsePath(path)
	if err != nil {
		return Value{}, err
	}
	return p.Eval(root), nil
}
