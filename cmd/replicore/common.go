package main

import (
	"fmt"

	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/store"
)

// cookieBlobName is the "name" under which a remote's cookie jar is
// persisted via Store.GetRemoteBlob/SetRemoteBlob, as a reserved
// per-remote document.
const cookieBlobName = "cookies"

// loadJar restores the persisted jar for remoteID, or an empty jar if
// none has been saved yet.
func loadJar(db *store.Store, remoteID string) (*cookiejar.Jar, error) {
	data, found, err := db.GetRemoteBlob(remoteID, cookieBlobName)
	if err != nil {
		return nil, fmt.Errorf("load cookie jar for %q: %w", remoteID, err)
	}
	if !found {
		return cookiejar.New(), nil
	}
	jar, err := cookiejar.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode cookie jar for %q: %w", remoteID, err)
	}
	return jar, nil
}

// saveJar persists jar if it has unsaved mutations, clearing the dirty
// flag on success.
func saveJar(db *store.Store, remoteID string, jar *cookiejar.Jar) error {
	if !jar.Dirty() {
		return nil
	}
	if err := db.SetRemoteBlob(remoteID, cookieBlobName, jar.Encode()); err != nil {
		return fmt.Errorf("save cookie jar for %q: %w", remoteID, err)
	}
	jar.Clean()
	return nil
}
