package cookiejar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultsDomainAndPath(t *testing.T) {
	c, ok := Parse("sid=42; Max-Age=3600", "db.example.com")
	require.True(t, ok)
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "42", c.Value)
	assert.Equal(t, "db.example.com", c.Domain)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.Persistent())
}

func TestParseRejectsEmptyName(t *testing.T) {
	_, ok := Parse("=novalue", "db.example.com")
	assert.False(t, ok)
}

func TestInsertReplacesSameKey(t *testing.T) {
	j := New()
	c1, ok := Parse("sid=1; Path=/", "db.example.com")
	require.True(t, ok)
	c2, ok := Parse("sid=2; Path=/", "db.example.com")
	require.True(t, ok)

	j.Insert(c1)
	j.Insert(c2)

	snap := j.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "2", snap[0].Value)
}

func TestInsertDeletesOnPastExpiryWithEmptyValue(t *testing.T) {
	j := New()
	c, ok := Parse("sid=1; Path=/", "db.example.com")
	require.True(t, ok)
	j.Insert(c)
	require.Len(t, j.Snapshot(), 1)

	del, ok := Parse("sid=; Path=/; Max-Age=-1", "db.example.com")
	require.True(t, ok)
	j.Insert(del)

	assert.Empty(t, j.Snapshot())
}

func TestCookiesForRequestMatching(t *testing.T) {
	j := New()
	c, ok := Parse("sid=42; Path=/; Max-Age=3600", "db.example.com")
	require.True(t, ok)
	j.Insert(c)

	got, err := j.CookiesForRequest("https://db.example.com/foo")
	require.NoError(t, err)
	assert.Equal(t, "sid=42", got)

	got, err = j.CookiesForRequest("https://other.example.com/foo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCookieUniquenessInvariant(t *testing.T) {
	j := New()
	names := []string{"a", "b", "c"}
	for _, n := range names {
		c, ok := Parse(n+"=1; Path=/", "db.example.com")
		require.True(t, ok)
		j.Insert(c)
		j.Insert(c) // insert twice, should not duplicate
	}
	assert.Len(t, j.Snapshot(), len(names))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	j := New()
	c, ok := Parse("sid=42; Path=/; Max-Age=3600", "db.example.com")
	require.True(t, ok)
	j.Insert(c)

	body := j.Encode()
	j2, err := Decode(body)
	require.NoError(t, err)

	got, err := j2.CookiesForRequest("https://db.example.com/foo")
	require.NoError(t, err)
	assert.Equal(t, "sid=42", got)

	snap := j2.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, c.Name, snap[0].Name)
	assert.Equal(t, c.Value, snap[0].Value)
	assert.Equal(t, c.Domain, snap[0].Domain)
	assert.Equal(t, c.Path, snap[0].Path)
	assert.Equal(t, c.Secure, snap[0].Secure)
	assert.WithinDuration(t, c.Expires, snap[0].Expires, time.Second)
}

func TestEncodeDropsSessionCookies(t *testing.T) {
	j := New()
	persistent, ok := Parse("sid=42; Path=/; Max-Age=3600", "db.example.com")
	require.True(t, ok)
	session, ok := Parse("tmp=1; Path=/", "db.example.com")
	require.True(t, ok)
	require.False(t, session.Persistent())
	j.Insert(persistent)
	j.Insert(session)
	require.Len(t, j.Snapshot(), 2)

	body := j.Encode()
	j2, err := Decode(body)
	require.NoError(t, err)

	snap := j2.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "sid", snap[0].Name)
}

func TestDirtyFlag(t *testing.T) {
	j := New()
	assert.False(t, j.Dirty())

	c, ok := Parse("sid=1; Path=/", "db.example.com")
	require.True(t, ok)
	j.Insert(c)
	assert.True(t, j.Dirty())

	j.Clean()
	assert.False(t, j.Dirty())
}
