package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inkwell-db/replicore/internal/backoff"
	"github.com/inkwell-db/replicore/internal/config"
	"github.com/inkwell-db/replicore/internal/cookiejar"
	"github.com/inkwell-db/replicore/internal/log"
	"github.com/inkwell-db/replicore/internal/metrics"
	"github.com/inkwell-db/replicore/internal/replicator"
	"github.com/inkwell-db/replicore/internal/store"
	"github.com/inkwell-db/replicore/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replicator against every remote in a config file",
	Long: `serve opens the local store, dials every configured remote, and keeps
each replication channel running (one-shot channels exit once caught up;
continuous channels keep running) until interrupted.

Example:
  replicore serve --config replicore.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "replicore.yaml", "Path to the YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("serve: metrics endpoint listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Logger.Error().Err(err).Msg("serve: metrics server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reps := make([]*replicator.Replicator, 0, len(cfg.Remotes))
	jars := make(map[string]*cookieJarHandle, len(cfg.Remotes))

	for _, remote := range cfg.Remotes {
		jar, err := loadJar(db, remote.ID)
		if err != nil {
			return err
		}
		jars[remote.ID] = &cookieJarHandle{remoteID: remote.ID, jar: jar}

		conn, err := transport.DialWithRetry(ctx, remote.URL, nil, backoff.Default)
		if err != nil {
			return fmt.Errorf("dial %s: %w", remote.ID, err)
		}

		rep, err := replicator.New(replicator.Config{
			RemoteID:         remote.ID,
			RemoteURL:        remote.URL,
			Push:             remote.Push != config.ModeNone,
			Pull:             remote.Pull != config.ModeNone,
			Continuous:       remote.Push == config.ModeContinuous || remote.Pull == config.ModeContinuous,
			DocIDs:           remote.DocIDSet(),
			BatchSize:        remote.BatchSize,
			HeartbeatSeconds: remote.HeartbeatSeconds,
		}, db, jar, conn)
		if err != nil {
			return fmt.Errorf("configure replicator for %s: %w", remote.ID, err)
		}
		if err := rep.Start(ctx); err != nil {
			return fmt.Errorf("start replicator for %s: %w", remote.ID, err)
		}
		reps = append(reps, rep)
		log.Logger.Info().Str("remote", remote.ID).Str("url", remote.URL).Msg("serve: replication channel started")
	}

	<-ctx.Done()
	log.Logger.Info().Msg("serve: shutting down")

	for _, rep := range reps {
		rep.Stop()
	}
	for _, h := range jars {
		if err := saveJar(db, h.remoteID, h.jar); err != nil {
			log.Logger.Warn().Err(err).Str("remote", h.remoteID).Msg("serve: failed to persist cookie jar")
		}
	}
	return nil
}

type cookieJarHandle struct {
	remoteID string
	jar      *cookiejar.Jar
}
