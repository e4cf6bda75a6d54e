// Command presenced is the observatory presence daemon. It keeps the
// session state machine and telemetry registries in memory, persists them
// to a snapshot file after every change, releases abandoned sessions in the
// background and serves the HTTP API described in package api.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gologging "github.com/op/go-logging"
	"github.com/spf13/cobra"

	"github.com/dreamware/presence/internal/clock"
	"github.com/dreamware/presence/internal/config"
	"github.com/dreamware/presence/internal/logging"
	"github.com/dreamware/presence/internal/presence"
	"github.com/dreamware/presence/internal/snapshot"
)

var log = gologging.MustGetLogger("presenced")

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "presenced",
		Short: "Observatory presence daemon",
		Long: `presenced tracks who is using the observatory and publishes a live status.

Run with defaults (listen on :5000, state in ~/.presence/presence.json):
  presenced

Require a token for mutating requests and use CBOR snapshots:
  presenced --token s3cret --snapshot-format cbor`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.LogLevel, os.Stderr); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default is ~/.presence/config.yaml)")
	f.String(config.FlagName(config.KeyListen), ":5000", "address to listen on")
	f.String(config.FlagName(config.KeyDataFile), "~/.presence/presence.json", "snapshot file")
	f.String(config.FlagName(config.KeySnapshotFormat), "json", "snapshot format: json or cbor")
	f.Duration(config.FlagName(config.KeyHeartbeatTimeout), 90*time.Second, "release a session after this long without heartbeats")
	f.Duration(config.FlagName(config.KeySweepInterval), 0, "time between timeout sweeps (0 means timeout/3)")
	f.String(config.FlagName(config.KeyToken), "", "bearer token required for mutating requests")
	f.String(config.FlagName(config.KeyLogLevel), "INFO", "log level")
	return cmd
}

// run listens on cfg.Listen and serves until ctx is canceled.
func run(ctx context.Context, cfg *config.Config) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(ctx, ln, cfg, clock.Real())
}

// serve wires the store, sweeper and HTTP server on an existing listener.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, clk clock.Clock) error {
	codec, err := cfg.Codec()
	if err != nil {
		ln.Close()
		return err
	}
	files := snapshot.NewFileStore(cfg.DataFile, codec)
	store := presence.NewStore(clk, files)
	restore(store, files)

	if cfg.Token == "" {
		log.Warning("no token configured: mutating endpoints are open to anyone who can reach them")
	}

	sweeper := presence.NewSweeper(store, clk, cfg.HeartbeatTimeout, cfg.SweepInterval)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	httpSrv := &http.Server{
		Handler:           newServer(store, cfg.Token).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("presenced listening on %s (snapshot %s, %s)", ln.Addr(), files.Path(), codec.Name())
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("presenced stopped")
	return nil
}

// restore loads the previous snapshot into store. A missing or unreadable
// file is not fatal: the daemon starts with an empty state and the next
// mutation overwrites the file.
func restore(store *presence.Store, files snapshot.Store) {
	state, err := files.Load()
	switch {
	case err == nil:
		store.Restore(state)
		if state.Session.Occupied {
			log.Infof("restored session of %s from snapshot", state.Session.User)
		} else {
			log.Info("restored snapshot: observatory free")
		}
	case errors.Is(err, snapshot.ErrNotFound):
		log.Info("no snapshot found, starting empty")
	case errors.Is(err, snapshot.ErrCorrupt):
		log.Warningf("snapshot unreadable, starting empty: %v", err)
	default:
		log.Errorf("could not load snapshot, starting empty: %v", err)
	}
}
