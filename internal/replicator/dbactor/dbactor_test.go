package dbactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/revtree"
	"github.com/inkwell-db/replicore/internal/store"
)

func openTestActor(t *testing.T) (*DBActor, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a := New(db, cookiejar.New(), "remote1")
	t.Cleanup(a.Stop)
	return a, db
}

func TestGetSetCheckpointRoundTrip(t *testing.T) {
	a, _ := openTestActor(t)

	done := make(chan struct{})
	var gotData []byte
	var gotEmpty bool
	a.GetCheckpoint("chan1", func(data []byte, empty bool, err error) {
		require.NoError(t, err)
		gotData, gotEmpty = data, empty
		close(done)
	})
	<-done
	assert.Nil(t, gotData)
	assert.True(t, gotEmpty)

	done2 := make(chan struct{})
	a.SetCheckpoint("chan1", []byte("body"), func(err error) {
		require.NoError(t, err)
		close(done2)
	})
	<-done2

	done3 := make(chan struct{})
	a.GetCheckpoint("chan1", func(data []byte, empty bool, err error) {
		require.NoError(t, err)
		assert.Equal(t, []byte("body"), data)
		close(done3)
	})
	<-done3
}

func TestInsertRevisionFlushesOnHighWaterMark(t *testing.T) {
	a, db := openTestActor(t)
	old := HighWaterMark
	HighWaterMark = 3
	defer func() { HighWaterMark = old }()

	done := make(chan []store.RevInsertResult, 1)
	a.OnBatchComplete(func(results []store.RevInsertResult) {
		done <- results
	})

	for i := 1; i <= 3; i++ {
		a.InsertRevision(revtree.RevToInsert{
			DocID: "doc1",
			RevID: revtree.NewRevID(i, "x"),
			Body:  []byte("v"),
		})
	}

	select {
	case results := <-done:
		require.Len(t, results, 3)
		for _, r := range results {
			assert.NoError(t, r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed at high water mark")
	}

	empty, err := db.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestInsertRevisionFlushesOnTimer(t *testing.T) {
	a, _ := openTestActor(t)
	old := FlushInterval
	FlushInterval = 5 * time.Millisecond
	defer func() { FlushInterval = old }()

	done := make(chan []store.RevInsertResult, 1)
	a.OnBatchComplete(func(results []store.RevInsertResult) { done <- results })

	a.InsertRevision(revtree.RevToInsert{DocID: "doc1", RevID: revtree.NewRevID(1, "x"), Body: []byte("v")})

	select {
	case results := <-done:
		require.Len(t, results, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed on timer")
	}
}

func TestFindOrRequestRevsSuppressesDuplicateAnnouncement(t *testing.T) {
	a, _ := openTestActor(t)

	announced := []AnnouncedRev{
		{DocID: "doc1", RevID: "1-a"},
	}

	done := make(chan []bool, 1)
	a.FindOrRequestRevs(announced, func(wanted []bool, err error) {
		require.NoError(t, err)
		done <- wanted
	})
	wanted := <-done
	require.Len(t, wanted, 1)
	assert.True(t, wanted[0])

	done2 := make(chan []bool, 1)
	a.FindOrRequestRevs(announced, func(wanted []bool, err error) {
		require.NoError(t, err)
		done2 <- wanted
	})
	wanted2 := <-done2
	require.Len(t, wanted2, 1)
	assert.False(t, wanted2[0], "an in-flight announcement should not be requested twice")
}

func TestFindOrRequestRevsAlreadyKnownNotWanted(t *testing.T) {
	a, db := openTestActor(t)
	require.NoError(t, db.PutLocalRevision("doc1", "1-a", "", []byte("v"), false))

	announced := []AnnouncedRev{{DocID: "doc1", RevID: "1-a"}}
	done := make(chan []bool, 1)
	a.FindOrRequestRevs(announced, func(wanted []bool, err error) {
		require.NoError(t, err)
		done <- wanted
	})
	assert.False(t, (<-done)[0])
}

func TestSendRevisionBuildsRevMessage(t *testing.T) {
	a, db := openTestActor(t)
	require.NoError(t, db.PutLocalRevision("doc1", "1-a", "", []byte(`{"x":1}`), false))

	done := make(chan blip.Message, 1)
	a.SendRevision(revtree.RevRequest{DocID: "doc1", RevID: "1-a"}, nil, func(msg blip.Message, err error) {
		require.NoError(t, err)
		done <- msg
	})
	msg := <-done
	assert.Equal(t, blip.ProfileRev, msg.Profile)
	assert.Equal(t, "doc1", msg.Properties["id"])
	assert.Equal(t, []byte(`{"x":1}`), msg.Body)
}

func TestSetCookieInsertsIntoJar(t *testing.T) {
	a, _ := openTestActor(t)
	require.NoError(t, a.SetCookie("session=abc123; Path=/", "example.com"))

	err := a.SetCookie("", "example.com")
	assert.Error(t, err)
}
