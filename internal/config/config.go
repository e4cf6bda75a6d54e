// Package config loads settings for presenced and presencectl.
//
// Sources, highest precedence first: command-line flags, PRESENCE_*
// environment variables, a YAML file, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	gologging "github.com/op/go-logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/presence/internal/snapshot"
)

// EnvPrefix is prepended to every environment variable, e.g.
// PRESENCE_HEARTBEAT_TIMEOUT=2m.
const EnvPrefix = "PRESENCE"

// Setting keys.
const (
	KeyListen            = "listen"
	KeyDataFile          = "data_file"
	KeySnapshotFormat    = "snapshot_format"
	KeyHeartbeatTimeout  = "heartbeat_timeout"
	KeySweepInterval     = "sweep_interval"
	KeyToken             = "token"
	KeyLogLevel          = "log_level"
	KeyServerURL         = "server_url"
	KeyUser              = "user"
	KeyHostID            = "host_id"
	KeyHeartbeatInterval = "heartbeat_interval"
	KeyReportInterval    = "report_interval"
)

// Config holds every setting used by the daemon and the CLI.
type Config struct {
	// Daemon
	Listen           string        `mapstructure:"listen"`
	DataFile         string        `mapstructure:"data_file"`
	SnapshotFormat   string        `mapstructure:"snapshot_format"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`

	// Shared
	Token    string `mapstructure:"token"`
	LogLevel string `mapstructure:"log_level"`

	// Client
	ServerURL         string        `mapstructure:"server_url"`
	User              string        `mapstructure:"user"`
	HostID            string        `mapstructure:"host_id"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReportInterval    time.Duration `mapstructure:"report_interval"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// Codec returns the snapshot codec named by SnapshotFormat.
func (c *Config) Codec() (snapshot.Codec, error) {
	return snapshot.CodecByName(c.SnapshotFormat)
}

var defaults = map[string]any{
	KeyListen:            ":5000",
	KeyDataFile:          "~/.presence/presence.json",
	KeySnapshotFormat:    "json",
	KeyHeartbeatTimeout:  "90s",
	KeySweepInterval:     "0s",
	KeyToken:             "",
	KeyLogLevel:          "INFO",
	KeyServerURL:         "http://localhost:5000",
	KeyUser:              "",
	KeyHostID:            "",
	KeyHeartbeatInterval: "30s",
	KeyReportInterval:    "60s",
}

// flagNames maps setting keys to their command-line spelling.
var flagNames = map[string]string{
	KeyListen:            "listen",
	KeyDataFile:          "data-file",
	KeySnapshotFormat:    "snapshot-format",
	KeyHeartbeatTimeout:  "heartbeat-timeout",
	KeySweepInterval:     "sweep-interval",
	KeyToken:             "token",
	KeyLogLevel:          "log-level",
	KeyServerURL:         "server",
	KeyUser:              "user",
	KeyHostID:            "host-id",
	KeyHeartbeatInterval: "heartbeat-interval",
	KeyReportInterval:    "report-interval",
}

// FlagName returns the flag spelling of key.
func FlagName(key string) string { return flagNames[key] }

// DefaultFile is the config file looked up when none is given.
func DefaultFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".presence", "config.yaml")
}

// Load resolves the configuration.
//
// path names an explicit YAML file; it must exist. When path is empty
// ~/.presence/config.yaml is read if present. fs may be nil; otherwise every
// flag in it whose name matches a setting (see FlagName) overrides the
// other sources when it was set on the command line.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range flagNames {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	file, err := readFile(v, path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	cfg.File = file

	if cfg.DataFile, err = homedir.Expand(cfg.DataFile); err != nil {
		return nil, fmt.Errorf("expand %s: %w", KeyDataFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return "", fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("could not read config %s: %w", expanded, err)
		}
		return expanded, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, ".presence"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("could not read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Validate checks values that cannot be caught by type conversion.
func (c *Config) Validate() error {
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %v", KeyHeartbeatTimeout, c.HeartbeatTimeout)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%s must not be negative, got %v", KeySweepInterval, c.SweepInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %v", KeyHeartbeatInterval, c.HeartbeatInterval)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %v", KeyReportInterval, c.ReportInterval)
	}
	if _, err := c.Codec(); err != nil {
		return err
	}
	if _, err := gologging.LogLevel(strings.ToUpper(c.LogLevel)); err != nil {
		return fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	return nil
}
