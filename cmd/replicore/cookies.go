package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-db/replicore/internal/store"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Inspect a remote's persisted cookie jar",
}

var cookiesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cookies persisted for a remote",
	RunE:  runCookiesShow,
}

func init() {
	cookiesShowCmd.Flags().String("data-dir", "./data", "Local store data directory")
	cookiesShowCmd.Flags().String("remote-id", "", "Remote identifier (required)")
	_ = cookiesShowCmd.MarkFlagRequired("remote-id")
	cookiesCmd.AddCommand(cookiesShowCmd)
}

func runCookiesShow(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	remoteID, _ := cmd.Flags().GetString("remote-id")

	db, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	jar, err := loadJar(db, remoteID)
	if err != nil {
		return err
	}

	snapshot := jar.Snapshot()
	if len(snapshot) == 0 {
		fmt.Printf("no cookies persisted for %q\n", remoteID)
		return nil
	}
	for _, c := range snapshot {
		fmt.Printf("%s=%s; Domain=%s; Path=%s; Secure=%v; Expires=%s\n",
			c.Name, c.Value, c.Domain, c.Path, c.Secure, c.Expires)
	}
	return nil
}
