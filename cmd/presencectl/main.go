// Command presencectl is the client side of the presence service: the
// login-time session keeper, one-shot session commands, the periodic host
// agent, the telescope reporter and the status viewer.
package main

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	gologging "github.com/op/go-logging"
	"github.com/spf13/cobra"

	"github.com/dreamware/presence/internal/api"
	"github.com/dreamware/presence/internal/clock"
	"github.com/dreamware/presence/internal/config"
	"github.com/dreamware/presence/internal/logging"
)

var log = gologging.MustGetLogger("presencectl")

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// app is shared by every subcommand once the configuration is loaded.
type app struct {
	cfg    *config.Config
	client *api.Client
	clock  clock.Clock
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string
	a := &app{clock: clock.Real(), out: out}

	root := &cobra.Command{
		Use:   "presencectl",
		Short: "Client for the observatory presence daemon",
		Long: `presencectl talks to presenced.

Keep a session open while logged in (releases on exit):
  presencectl session --target "M42" --hours 2

See who is observing:
  presencectl status

Report this machine's metrics every minute:
  presencectl host-agent`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.LogLevel, cmd.ErrOrStderr()); err != nil {
				return err
			}
			a.cfg = cfg
			a.client = api.NewClient(cfg.ServerURL, cfg.Token)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.presence/config.yaml)")
	pf.String(config.FlagName(config.KeyServerURL), "http://localhost:5000", "presenced base URL")
	pf.String(config.FlagName(config.KeyToken), "", "bearer token")
	pf.String(config.FlagName(config.KeyLogLevel), "INFO", "log level")

	root.AddCommand(
		newSessionCmd(a),
		newStartCmd(a),
		newHeartbeatCmd(a),
		newReleaseCmd(a),
		newStatusCmd(a),
		newHostAgentCmd(a),
		newTelescopeCmd(a),
	)
	return root
}

// resolveUser picks the observer name: configured value, then the OS
// account name.
func resolveUser(configured string) (string, error) {
	if name := strings.TrimSpace(configured); name != "" {
		return name, nil
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		// Windows reports DOMAIN\name.
		if _, name, ok := strings.Cut(u.Username, `\`); ok {
			return name, nil
		}
		return u.Username, nil
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if name := os.Getenv(env); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot determine user name; pass --%s", config.FlagName(config.KeyUser))
}

// resolveHostID picks the reporting host's id: configured value, then the
// hostname.
func resolveHostID(configured string) (string, error) {
	if id := strings.TrimSpace(configured); id != "" {
		return id, nil
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "", fmt.Errorf("cannot determine host id; pass --%s", config.FlagName(config.KeyHostID))
	}
	return name, nil
}
