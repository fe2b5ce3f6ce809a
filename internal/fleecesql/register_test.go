package fleecesql

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-db/replicore/internal/fleece"
)

func openTestDB(t *testing.T, driverName string, keys *fleece.SharedKeys) *sql.DB {
	t.Helper()
	RegisterDriver(driverName, keys, nil)
	db, err := sql.Open(driverName, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFlValueAndExists(t *testing.T) {
	keys := fleece.NewSharedKeys()
	enc := fleece.NewEncoder(keys)
	body, err := enc.EncodeGo(map[string]any{"name": "ana", "age": float64(7)})
	require.NoError(t, err)

	db := openTestDB(t, "fleecesql_value_test", keys)

	_, err = db.Exec(`CREATE TABLE docs (id TEXT PRIMARY KEY, body BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO docs (id, body) VALUES (?, ?)`, "doc1", body)
	require.NoError(t, err)

	var name string
	err = db.QueryRow(`SELECT fl_value(body, '.name') FROM docs WHERE id = ?`, "doc1").Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "ana", name)

	var exists int64
	err = db.QueryRow(`SELECT fl_exists(body, '.missing_field') FROM docs WHERE id = ?`, "doc1").Scan(&exists)
	require.NoError(t, err)
	require.Equal(t, int64(0), exists)
}

func TestMissingifReturnsOnFirstMatch(t *testing.T) {
	db := openTestDB(t, "fleecesql_missingif_test", nil)

	var v any
	err := db.QueryRow(`SELECT missingif(5, 5)`).Scan(&v)
	require.NoError(t, err)
	require.Nil(t, v)

	err = db.QueryRow(`SELECT missingif(5, 6)`).Scan(&v)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestFlContainsAnyAndAll(t *testing.T) {
	keys := fleece.NewSharedKeys()
	enc := fleece.NewEncoder(keys)
	body, err := enc.EncodeGo(map[string]any{"tags": []any{"red", "green", "blue"}})
	require.NoError(t, err)

	db := openTestDB(t, "fleecesql_contains_test", keys)

	_, err = db.Exec(`CREATE TABLE docs (id TEXT PRIMARY KEY, body BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO docs (id, body) VALUES (?, ?)`, "doc1", body)
	require.NoError(t, err)

	var any0 int64
	err = db.QueryRow(`SELECT fl_contains(body, '.tags', 0, 'purple', 'green') FROM docs WHERE id = ?`, "doc1").Scan(&any0)
	require.NoError(t, err)
	require.Equal(t, int64(1), any0, "any-match should fire on a single matching needle")

	var anyMiss int64
	err = db.QueryRow(`SELECT fl_contains(body, '.tags', 0, 'purple', 'yellow') FROM docs WHERE id = ?`, "doc1").Scan(&anyMiss)
	require.NoError(t, err)
	require.Equal(t, int64(0), anyMiss)

	var all1 int64
	err = db.QueryRow(`SELECT fl_contains(body, '.tags', 1, 'red', 'blue') FROM docs WHERE id = ?`, "doc1").Scan(&all1)
	require.NoError(t, err)
	require.Equal(t, int64(1), all1, "all-match requires every needle present")

	var allMiss int64
	err = db.QueryRow(`SELECT fl_contains(body, '.tags', 1, 'red', 'purple') FROM docs WHERE id = ?`, "doc1").Scan(&allMiss)
	require.NoError(t, err)
	require.Equal(t, int64(0), allMiss)
}

func TestUUIDProducesDistinctValues(t *testing.T) {
	db := openTestDB(t, "fleecesql_uuid_test", nil)

	var a, b string
	require.NoError(t, db.QueryRow(`SELECT uuid()`).Scan(&a))
	require.NoError(t, db.QueryRow(`SELECT uuid()`).Scan(&b))
	require.Len(t, a, 36)
	require.NotEqual(t, a, b)
}

func TestArrayAggregatesOverBlob(t *testing.T) {
	keys := fleece.NewSharedKeys()
	enc := fleece.NewEncoder(keys)
	body, err := enc.EncodeGo([]any{float64(1), float64(2), float64(3)})
	require.NoError(t, err)

	db := openTestDB(t, "fleecesql_array_test", keys)

	var sum float64
	err = db.QueryRow(`SELECT array_sum(?)`, body).Scan(&sum)
	require.NoError(t, err)
	require.Equal(t, 6.0, sum)

	var count int64
	err = db.QueryRow(`SELECT array_count(?)`, body).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}
