package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-db/replicore/internal/checkpoint"
	"github.com/inkwell-db/replicore/internal/store"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset a local checkpoint document",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the local checkpoint for a remote",
	RunE:  runCheckpointShow,
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a remote's local checkpoint to zero",
	Long: `reset discards the local half of a checkpoint, forcing the next
replication run to resume from sequence zero against this remote. This
does not touch the peer's mirrored copy.`,
	RunE: runCheckpointReset,
}

func init() {
	for _, c := range []*cobra.Command{checkpointShowCmd, checkpointResetCmd} {
		c.Flags().String("data-dir", "./data", "Local store data directory")
		c.Flags().String("remote-id", "", "Remote identifier (required)")
		c.Flags().String("remote-url", "", "Remote URL used when the checkpoint was created (required)")
		_ = c.MarkFlagRequired("remote-id")
		_ = c.MarkFlagRequired("remote-url")
		checkpointCmd.AddCommand(c)
	}
}

func checkpointIDFromFlags(cmd *cobra.Command, db *store.Store) (string, error) {
	remoteURL, _ := cmd.Flags().GetString("remote-url")
	localUUID, err := db.UUID()
	if err != nil {
		return "", fmt.Errorf("read local UUID: %w", err)
	}
	return checkpoint.Key(localUUID, remoteURL, nil), nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	checkpointID, err := checkpointIDFromFlags(cmd, db)
	if err != nil {
		return err
	}
	data, found, err := db.GetCheckpoint(checkpointID)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if !found {
		fmt.Printf("checkpoint %s: not set (fresh channel)\n", checkpointID)
		return nil
	}
	cp, err := checkpoint.Decode(data)
	if err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	fmt.Printf("checkpoint %s:\n  lastSequencePushed: %d\n  pullCursor: %q\n", checkpointID, cp.LastSequencePushed, cp.PullCursor)
	return nil
}

func runCheckpointReset(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	checkpointID, err := checkpointIDFromFlags(cmd, db)
	if err != nil {
		return err
	}
	if err := db.SetCheckpoint(checkpointID, checkpoint.Encode(checkpoint.Checkpoint{})); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	fmt.Printf("checkpoint %s reset to zero\n", checkpointID)
	return nil
}
