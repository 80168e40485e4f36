// File: cmd/paramhub/main.go
//
// paramhub is the central hub binary: it connects to the configured
// remote devices, mirrors their parameter state, and serves its own
// local components over the same bus protocol. CLI surface grounded on
// aldrin-isaac-newtron/cmd/newtron/main.go's cobra root-command
// pattern, scaled down to this daemon's single long-running command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/parambus-hub/internal/config"
	"github.com/momentics/parambus-hub/internal/hub"
)

var (
	flagConfigPath     string
	flagServerAddr     string
	flagPingInterval   time.Duration
	flagPingTimeout    time.Duration
	flagReconnectDelay time.Duration
	flagDiscoveryDelay time.Duration
	flagSubscribeDelay time.Duration
	flagLogLevel       string
)

var rootCmd = &cobra.Command{
	Use:           "paramhub [devices...]",
	Short:         "Central hub for a distributed parameter-bus device network",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `paramhub connects to zero or more remote parameter-bus devices
addressed as host:port, mirrors their parameter state locally, and
exposes its own local components (network actions, the action
scheduler, the expression watcher) over the same WebSocket-JSON
protocol so dashboards and devices can read/write hub state exactly
like device state.

Device list priority: positional arguments here, then the
PARAMBUS_DEVICES environment variable (comma-separated), then the
"devices:" list in --config's YAML file.`,
	RunE: runHub,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfigPath, "config", "", "path to a YAML config file")
	flags.StringVar(&flagServerAddr, "server-addr", "", "inbound protocol server listen address (default \":8765\")")
	flags.DurationVar(&flagPingInterval, "ping-interval", 0, "WebSocket ping interval")
	flags.DurationVar(&flagPingTimeout, "ping-timeout", 0, "WebSocket ping timeout")
	flags.DurationVar(&flagReconnectDelay, "reconnect-delay", 0, "device reconnect backoff")
	flags.DurationVar(&flagDiscoveryDelay, "discovery-delay", 0, "pacing delay between discovery requests")
	flags.DurationVar(&flagSubscribeDelay, "subscribe-delay", 0, "pacing delay between subscribe requests")
	flags.StringVar(&flagLogLevel, "log-level", "", "logrus level: trace|debug|info|warn|error")
}

func runHub(cmd *cobra.Command, args []string) error {
	file, err := config.LoadFile(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	resolved := config.Resolve(config.Options{
		PositionalDevices: args,
		ServerAddr:        flagServerAddr,
		PingInterval:      flagPingInterval,
		PingTimeout:       flagPingTimeout,
		ReconnectDelay:    flagReconnectDelay,
		DiscoveryDelay:    flagDiscoveryDelay,
		SubscribeDelay:    flagSubscribeDelay,
		LogLevel:          flagLogLevel,
	}, file)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(resolved.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	h, err := hub.New(hub.Config{
		Devices:        resolved.Devices,
		ServerAddr:     resolved.ServerAddr,
		PingInterval:   resolved.PingInterval,
		PingTimeout:    resolved.PingTimeout,
		ReconnectDelay: resolved.ReconnectDelay,
		DiscoveryDelay: resolved.DiscoveryDelay,
		SubscribeDelay: resolved.SubscribeDelay,
	}, entry)
	if err != nil {
		return fmt.Errorf("building hub: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry.WithField("server_addr", resolved.ServerAddr).WithField("devices", resolved.Devices).Info("starting paramhub")
	return h.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
