package replicator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/inkwell-db/replicore/internal/blip"
	"github.com/inkwell-db/replicore/internal/replicator/dbactor"
)

// RemoteCheckpoint implements checkpoint.RemoteFetcher by exchanging
// getCheckpoint/setCheckpoint request pairs over a blip.Sender, letting
// each side's checkpoint.Store treat its peer's database as the
// "remote" mirror it reconciles against.
type RemoteCheckpoint struct {
	sender *blip.Sender
}

// NewRemoteCheckpoint wraps sender as a checkpoint.RemoteFetcher.
func NewRemoteCheckpoint(sender *blip.Sender) *RemoteCheckpoint {
	return &RemoteCheckpoint{sender: sender}
}

// GetRemoteCheckpoint asks the peer for its copy of checkpoint id.
func (r *RemoteCheckpoint) GetRemoteCheckpoint(id string) (data []byte, found bool, err error) {
	reply, err := r.sender.Request(context.Background(), blip.ProfileGetCheckpoint, map[string]string{"id": id}, nil)
	if err != nil {
		return nil, false, err
	}
	if reply.Properties["found"] != "1" {
		return nil, false, nil
	}
	return reply.Body, true, nil
}

// SetRemoteCheckpoint pushes data to the peer's copy of checkpoint id,
// returning the new content-addressed revision the peer assigned.
func (r *RemoteCheckpoint) SetRemoteCheckpoint(id string, data []byte, priorRev string) (newRev string, err error) {
	props := map[string]string{"id": id}
	if priorRev != "" {
		props["rev"] = priorRev
	}
	reply, err := r.sender.Request(context.Background(), blip.ProfileSetCheckpoint, props, data)
	if err != nil {
		return "", err
	}
	return reply.Properties["rev"], nil
}

// ServeCheckpointRequests registers handlers on sender that answer a
// peer's getCheckpoint/setCheckpoint requests using actor's own local
// checkpoint storage — the server-side counterpart to RemoteCheckpoint.
func ServeCheckpointRequests(sender *blip.Sender, actor *dbactor.DBActor) {
	sender.RegisterHandler(blip.ProfileGetCheckpoint, func(ctx context.Context, msg blip.Message) blip.Message {
		id := msg.Properties["id"]
		type result struct {
			data []byte
			err  error
		}
		done := make(chan result, 1)
		actor.GetCheckpoint(id, func(data []byte, _ bool, err error) {
			done <- result{data, err}
		})
		r := <-done
		if r.err != nil {
			return msg.ReplyError(r.err.Error())
		}
		props := map[string]string{}
		if r.data != nil {
			props["found"] = "1"
		}
		return msg.Reply(props, r.data)
	})

	sender.RegisterHandler(blip.ProfileSetCheckpoint, func(ctx context.Context, msg blip.Message) blip.Message {
		id := msg.Properties["id"]
		done := make(chan error, 1)
		actor.SetCheckpoint(id, msg.Body, func(err error) { done <- err })
		if err := <-done; err != nil {
			return msg.ReplyError(err.Error())
		}
		sum := sha256.Sum256(msg.Body)
		return msg.Reply(map[string]string{"rev": hex.EncodeToString(sum[:])}, nil)
	})
}
