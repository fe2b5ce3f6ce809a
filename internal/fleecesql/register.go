package fleecesql

import (
	"database/sql"
	"math"

	"github.com/mattn/go-sqlite3"

	"github.com/inkwell-db/replicore/internal/fleece"
)

// Register installs the query bridge's host functions into conn so that
// SQL run against it can index and filter Fleece-encoded document bodies.
// It is intended to be called from a go-sqlite3 ConnectHook
// (sql.Register with a driver whose ConnectHook calls Register).
func Register(conn *sqlite3.SQLiteConn, b *Bridge) error {
	scalar := func(name string, pure bool, fn any) error {
		return conn.RegisterFunc(name, fn, pure)
	}

	if err := scalar("fl_value", true, b.flValue); err != nil {
		return err
	}
	if err := scalar("fl_exists", true, b.flExists); err != nil {
		return err
	}
	if err := scalar("fl_type", true, b.flType); err != nil {
		return err
	}
	if err := scalar("fl_count", true, b.flCount); err != nil {
		return err
	}
	if err := scalar("fl_contains", true, b.flContains); err != nil {
		return err
	}

	if err := scalar("array_sum", true, b.arraySum); err != nil {
		return err
	}
	if err := scalar("array_avg", true, b.arrayAvg); err != nil {
		return err
	}
	if err := scalar("array_min", true, b.arrayMin); err != nil {
		return err
	}
	if err := scalar("array_max", true, b.arrayMax); err != nil {
		return err
	}
	if err := scalar("array_count", true, b.arrayCount); err != nil {
		return err
	}
	if err := scalar("array_length", true, b.arrayLength); err != nil {
		return err
	}
	if err := scalar("array_contains", true, b.arrayContains); err != nil {
		return err
	}
	if err := scalar("array_ifnull", true, b.arrayIfnull); err != nil {
		return err
	}

	if err := scalar("missingif", true, missingif); err != nil {
		return err
	}
	if err := scalar("nullif_fl", true, nullif); err != nil {
		return err
	}
	if err := scalar("nanif", true, nanif); err != nil {
		return err
	}
	if err := scalar("neginfif", true, neginfif); err != nil {
		return err
	}
	if err := scalar("posinfif", true, posinfif); err != nil {
		return err
	}
	if err := scalar("ifinf", true, ifinf); err != nil {
		return err
	}
	if err := scalar("ifnan", true, ifnan); err != nil {
		return err
	}
	if err := scalar("ifnanorinf", true, ifnanorinf); err != nil {
		return err
	}

	if err := scalar("base64", true, base64Encode); err != nil {
		return err
	}
	if err := scalar("base64_decode", true, base64Decode); err != nil {
		return err
	}
	if err := scalar("uuid", false, uuidFunc); err != nil {
		return err
	}
	if err := scalar("contains", true, func(haystack, needle string) int64 {
		if len(needle) == 0 {
			return 1
		}
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return 1
			}
		}
		return 0
	}); err != nil {
		return err
	}
	if err := scalar("regexp_like", true, regexpLike); err != nil {
		return err
	}

	return registerMathFuncs(conn)
}

// registerMathFuncs wires the standard single-argument math functions the
// bridge exposes for use in numeric index expressions, plus pow/mod/pi/
// degrees/radians. There's nothing document-specific about these; they're
// registered generically rather than as ~20 near-identical wrapper
// functions.
func registerMathFuncs(conn *sqlite3.SQLiteConn) error {
	unary := map[string]func(float64) float64{
		"abs":    math.Abs,
		"acos":   math.Acos,
		"asin":   math.Asin,
		"atan":   math.Atan,
		"ceil":   math.Ceil,
		"cos":    math.Cos,
		"degrees": func(x float64) float64 { return x * 180 / math.Pi },
		"exp":    math.Exp,
		"floor":  math.Floor,
		"ln":     math.Log,
		"log2":   math.Log2,
		"log10":  math.Log10,
		"radians": func(x float64) float64 { return x * math.Pi / 180 },
		"sign": func(x float64) float64 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			default:
				return 0
			}
		},
		"sin":   math.Sin,
		"sqrt":  math.Sqrt,
		"tan":   math.Tan,
		"trunc": math.Trunc,
	}
	for name, fn := range unary {
		fn := fn
		if err := conn.RegisterFunc(name, fn, true); err != nil {
			return err
		}
	}

	if err := conn.RegisterFunc("log", math.Log, true); err != nil {
		return err
	}
	if err := conn.RegisterFunc("pow", math.Pow, true); err != nil {
		return err
	}
	if err := conn.RegisterFunc("mod", math.Mod, true); err != nil {
		return err
	}
	if err := conn.RegisterFunc("pi", func() float64 { return math.Pi }, true); err != nil {
		return err
	}
	return nil
}

// RegisterDriver registers a database/sql driver named driverName whose
// connections all have the query bridge's host functions installed. Call it
// once per distinct (keys, accessor) pair during process init, then
// sql.Open(driverName, dsn). database/sql panics if driverName is
// registered twice, so callers typically pick one fixed name per process.
func RegisterDriver(driverName string, keys *fleece.SharedKeys, accessor RowAccessor) {
	b := NewBridge(keys, accessor)
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return Register(conn, b)
		},
	})
}
