package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/presence/internal/api"
	"github.com/dreamware/presence/internal/clock"
	"github.com/dreamware/presence/internal/config"
	"github.com/dreamware/presence/internal/presence"
)

// Start attempts made by the session keeper before giving up; the daemon
// may still be coming up when the login script runs.
const (
	startAttempts   = 10
	startRetryDelay = 2 * time.Second
	releaseTimeout  = 5 * time.Second
)

type startFlags struct {
	target string
	hours  float64
	end    string
	force  bool
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().String(config.FlagName(config.KeyUser), "", "observer name (default: OS account)")
	cmd.Flags().StringVar(&f.target, "target", "", "target or note shown to others")
	cmd.Flags().Float64Var(&f.hours, "hours", 0, "planned session length in hours")
	cmd.Flags().StringVar(&f.end, "end", "", "planned end as RFC 3339 time (wins over --hours)")
	cmd.Flags().BoolVar(&f.force, "force", false, "take over an occupied observatory")
}

func (f *startFlags) request(user string) (api.StartRequest, error) {
	req := api.StartRequest{User: user, Target: f.target, PlannedHours: f.hours, Force: f.force}
	if f.end != "" {
		end, err := time.Parse(time.RFC3339, f.end)
		if err != nil {
			return req, fmt.Errorf("--end: %w", err)
		}
		req.PlannedEnd = &end
	}
	return req, nil
}

func newSessionCmd(a *app) *cobra.Command {
	var flags startFlags
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start a session, keep it alive and release it on exit",
		Long: `session is meant to run from a login script. It starts a session, sends a
heartbeat every heartbeat_interval and releases the observatory when it is
interrupted. It exits with an error when the daemon reports that the
session is gone or belongs to someone else.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(a.cfg.User)
			if err != nil {
				return err
			}
			req, err := flags.request(user)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, a.client, a.clock, req, a.cfg.HeartbeatInterval)
		},
	}
	flags.register(cmd)
	cmd.Flags().Duration(config.FlagName(config.KeyHeartbeatInterval), 30*time.Second, "time between heartbeats")
	return cmd
}

// runSession starts a session and heartbeats until ctx is canceled, then
// releases. A conflict ends it immediately without releasing; the
// observatory belongs to someone else.
func runSession(ctx context.Context, c *api.Client, clk clock.Clock, req api.StartRequest, interval time.Duration) error {
	if err := startWithRetry(ctx, c, clk, req); err != nil {
		return err
	}
	log.Infof("session started for %s, heartbeat every %v", req.User, interval)

	err := heartbeatLoop(ctx, c, clk, req.User, interval)
	if errors.Is(err, presence.ErrMismatch) {
		return fmt.Errorf("session lost: %w", err)
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if rerr := c.Release(releaseCtx); rerr != nil {
		log.Warningf("release failed: %v", rerr)
		return rerr
	}
	log.Infof("session released for %s", req.User)
	return err
}

func startWithRetry(ctx context.Context, c *api.Client, clk clock.Clock, req api.StartRequest) error {
	var lastErr error
	for i := 0; i < startAttempts; i++ {
		_, lastErr = c.Start(ctx, req)
		if lastErr == nil {
			return nil
		}
		var se *api.StatusError
		if errors.As(lastErr, &se) {
			// The daemon answered; retrying will not change its mind.
			return fmt.Errorf("start session: %w", lastErr)
		}
		log.Warningf("start retry %d: %v", i+1, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(startRetryDelay):
		}
	}
	return fmt.Errorf("start session: %w", lastErr)
}

// heartbeatLoop returns nil when ctx is canceled and an ErrMismatch error
// when the daemon no longer recognises the session. Transport errors are
// logged and retried on the next tick.
func heartbeatLoop(ctx context.Context, c *api.Client, clk clock.Clock, user string, interval time.Duration) error {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := c.Heartbeat(ctx, user)
			switch {
			case err == nil:
				log.Debugf("heartbeat ok for %s", user)
			case errors.Is(err, presence.ErrMismatch):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				log.Warningf("heartbeat failed, retrying next tick: %v", err)
			}
		}
	}
}

func newStartCmd(a *app) *cobra.Command {
	var flags startFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(a.cfg.User)
			if err != nil {
				return err
			}
			req, err := flags.request(user)
			if err != nil {
				return err
			}
			resp, err := a.client.Start(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "session started for %s\n", resp.State.User)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newHeartbeatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send one heartbeat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := resolveUser(a.cfg.User)
			if err != nil {
				return err
			}
			return a.client.Heartbeat(cmd.Context(), user)
		},
	}
	cmd.Flags().String(config.FlagName(config.KeyUser), "", "observer name (default: OS account)")
	return cmd
}

func newReleaseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Free the observatory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Release(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "observatory released")
			return nil
		},
	}
}
