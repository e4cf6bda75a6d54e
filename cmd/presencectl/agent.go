package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/presence/internal/api"
	"github.com/dreamware/presence/internal/clock"
	"github.com/dreamware/presence/internal/config"
	"github.com/dreamware/presence/internal/hostinfo"
	"github.com/dreamware/presence/internal/presence"
)

// sampler is satisfied by *hostinfo.Sampler.
type sampler interface {
	Sample() (hostinfo.Metrics, error)
}

func newHostAgentCmd(a *app) *cobra.Command {
	var (
		once     bool
		diskPath string
	)
	cmd := &cobra.Command{
		Use:   "host-agent",
		Short: "Report this host's metrics periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := resolveHostID(a.cfg.HostID)
			if err != nil {
				return err
			}
			s := hostinfo.NewSampler(diskPath)
			if once {
				return reportHost(cmd.Context(), a.client, a.clock, s, hostID)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHostAgent(ctx, a.client, a.clock, s, hostID, a.cfg.ReportInterval)
		},
	}
	cmd.Flags().String(config.FlagName(config.KeyHostID), "", "host id (default: hostname)")
	cmd.Flags().Duration(config.FlagName(config.KeyReportInterval), time.Minute, "time between reports")
	cmd.Flags().BoolVar(&once, "once", false, "send a single report and exit")
	cmd.Flags().StringVar(&diskPath, "disk", "", "path whose filesystem free space is reported")
	return cmd
}

// runHostAgent reports immediately and then every interval until ctx is
// canceled. Failed reports are logged and retried on the next tick.
func runHostAgent(ctx context.Context, c *api.Client, clk clock.Clock, s sampler, hostID string, interval time.Duration) error {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("host agent for %s reporting every %v", hostID, interval)
	for {
		if err := reportHost(ctx, c, clk, s, hostID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warningf("host report failed, retrying next tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func reportHost(ctx context.Context, c *api.Client, clk clock.Clock, s sampler, hostID string) error {
	m, err := s.Sample()
	if err != nil {
		log.Warningf("partial host sample: %v", err)
	}
	return c.ReportHost(ctx, api.HostReport{
		HostID:          hostID,
		Timestamp:       clk.Now().UTC(),
		UptimeSeconds:   m.UptimeSeconds,
		CPUPercent:      m.CPUPercent,
		MemPercent:      m.MemPercent,
		DiskFreePercent: m.DiskFreePercent,
		OSVersion:       m.OSVersion,
	})
}

func newTelescopeCmd(a *app) *cobra.Command {
	var (
		ra, dec           float64
		frame             string
		tracking, slewing string
	)
	cmd := &cobra.Command{
		Use:   "telescope",
		Short: "Report the telescope's pointing once",
		Example: `  presencectl telescope --ra 5.588 --dec -5.39 --frame J2000 --tracking true
  presencectl telescope --ra 0 --dec 90 --slewing unknown`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hostID, err := resolveHostID(a.cfg.HostID)
			if err != nil {
				return err
			}
			report, err := telescopeReport(hostID, a.clock.Now(), ra, dec, frame, tracking, slewing)
			if err != nil {
				return err
			}
			if err := a.client.ReportTelescope(cmd.Context(), report); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "telescope status reported for %s\n", hostID)
			return nil
		},
	}
	cmd.Flags().String(config.FlagName(config.KeyHostID), "", "host id (default: hostname)")
	cmd.Flags().Float64Var(&ra, "ra", 0, "right ascension in hours [0,24)")
	cmd.Flags().Float64Var(&dec, "dec", 0, "declination in degrees [-90,90]")
	cmd.Flags().StringVar(&frame, "frame", "", "coordinate frame, e.g. J2000 or JNow")
	cmd.Flags().StringVar(&tracking, "tracking", "unknown", "true, false or unknown")
	cmd.Flags().StringVar(&slewing, "slewing", "unknown", "true, false or unknown")
	return cmd
}

func telescopeReport(hostID string, now time.Time, ra, dec float64, frame, tracking, slewing string) (api.TelescopeReport, error) {
	tr, err := presence.ParseTriState(tracking)
	if err != nil {
		return api.TelescopeReport{}, fmt.Errorf("--tracking: %w", err)
	}
	sl, err := presence.ParseTriState(slewing)
	if err != nil {
		return api.TelescopeReport{}, fmt.Errorf("--slewing: %w", err)
	}
	return api.TelescopeReport{
		HostID:              hostID,
		Timestamp:           now.UTC(),
		RightAscensionHours: ra,
		DeclinationDegrees:  dec,
		Frame:               frame,
		Tracking:            tr.Ptr(),
		Slewing:             sl.Ptr(),
	}, nil
}
