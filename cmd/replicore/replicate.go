package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell-db/replicore/internal/backoff"
	"github.com/inkwell-db/replicore/internal/log"
	"github.com/inkwell-db/replicore/internal/replicator"
	"github.com/inkwell-db/replicore/internal/store"
	"github.com/inkwell-db/replicore/internal/transport"
)

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Run a single ad hoc replication channel against one remote",
}

var replicatePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local revisions to a remote",
	RunE:  func(cmd *cobra.Command, args []string) error { return runReplicate(cmd, true, false) },
}

var replicatePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote revisions into the local store",
	RunE:  func(cmd *cobra.Command, args []string) error { return runReplicate(cmd, false, true) },
}

var replicateBothCmd = &cobra.Command{
	Use:   "both",
	Short: "Replicate in both directions against a remote",
	RunE:  func(cmd *cobra.Command, args []string) error { return runReplicate(cmd, true, true) },
}

func init() {
	for _, c := range []*cobra.Command{replicatePushCmd, replicatePullCmd, replicateBothCmd} {
		c.Flags().String("data-dir", "./data", "Local store data directory")
		c.Flags().String("remote-id", "", "Identifier for the remote peer (required)")
		c.Flags().String("remote-url", "", "Remote websocket URL (required)")
		c.Flags().Bool("continuous", false, "Keep the channel running instead of exiting once caught up")
		c.Flags().Int("batch-size", 0, "Change feed batch size (0 = default)")
		c.Flags().Int("heartbeat", 30, "Seconds between keep-alive frames in continuous mode (0 disables)")
		_ = c.MarkFlagRequired("remote-id")
		_ = c.MarkFlagRequired("remote-url")
		replicateCmd.AddCommand(c)
	}
}

func runReplicate(cmd *cobra.Command, push, pull bool) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	remoteID, _ := cmd.Flags().GetString("remote-id")
	remoteURL, _ := cmd.Flags().GetString("remote-url")
	continuous, _ := cmd.Flags().GetBool("continuous")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	heartbeat, _ := cmd.Flags().GetInt("heartbeat")

	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	jar, err := loadJar(db, remoteID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := transport.DialWithRetry(ctx, remoteURL, nil, backoff.Default)
	if err != nil {
		return fmt.Errorf("dial %s: %w", remoteID, err)
	}

	rep, err := replicator.New(replicator.Config{
		RemoteID:         remoteID,
		RemoteURL:        remoteURL,
		Push:             push,
		Pull:             pull,
		Continuous:       continuous,
		BatchSize:        batchSize,
		HeartbeatSeconds: heartbeat,
	}, db, jar, conn)
	if err != nil {
		return fmt.Errorf("configure replicator: %w", err)
	}
	if err := rep.Start(ctx); err != nil {
		return fmt.Errorf("start replicator: %w", err)
	}

	switch {
	case continuous:
		<-ctx.Done()
	case push && !pull:
		// Push has a natural terminal state: wait for the pusher to drain
		// the change feed and report caught-up.
		waitForCaughtUp(ctx, rep)
	default:
		// A puller is purely reactive and has no terminal state of its
		// own to wait on; a non-continuous pull runs until interrupted.
		<-ctx.Done()
	}
	rep.Stop()

	if err := saveJar(db, remoteID, jar); err != nil {
		log.Logger.Warn().Err(err).Msg("replicate: failed to persist cookie jar")
	}
	status := rep.Status()
	fmt.Printf("status: running=%v state=%s pushed=%d pulled=%d\n", status.Running, status.State, status.Push.Revs, status.Pull.Revs)
	return nil
}

func waitForCaughtUp(ctx context.Context, rep *replicator.Replicator) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s := rep.Status().State; s == replicator.CaughtUp || s == replicator.Stopped {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
