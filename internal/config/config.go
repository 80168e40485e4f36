// File: internal/config/config.go
//
// Config resolves the hub's startup settings from three sources in the
// priority order spec.md §6 mandates: positional CLI arguments, then
// the PARAMBUS_DEVICES environment variable (comma-separated), then a
// static "devices:" list in a YAML config file. Every other knob in
// the table (server port, ping interval/timeout, reconnect/discovery/
// subscribe delay, log level) follows the same cobra-flag-then-YAML
// precedence, grounded on aldrin-isaac-newtron's settings package
// (pkg/settings) using gopkg.in/yaml.v3 for the file format.

package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape; every field is optional.
type File struct {
	Devices        []string `yaml:"devices"`
	ServerAddr     string   `yaml:"server_addr"`
	PingIntervalMs int      `yaml:"ping_interval_ms"`
	PingTimeoutMs  int      `yaml:"ping_timeout_ms"`
	ReconnectMs    int      `yaml:"reconnect_delay_ms"`
	DiscoveryMs    int      `yaml:"discovery_delay_ms"`
	SubscribeMs    int      `yaml:"subscribe_delay_ms"`
	LogLevel       string   `yaml:"log_level"`
}

// LoadFile reads a YAML config file. A missing path is not an error —
// it returns a zero-value File so defaults and higher-priority sources
// still apply.
func LoadFile(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, err
	}
	return f, nil
}

// Resolved is the fully-merged configuration passed to hub.New.
type Resolved struct {
	Devices        []string
	ServerAddr     string
	PingInterval   time.Duration
	PingTimeout    time.Duration
	ReconnectDelay time.Duration
	DiscoveryDelay time.Duration
	SubscribeDelay time.Duration
	LogLevel       string
}

// Options carries the CLI-flag values; zero values mean "not set on
// the command line" and fall through to the YAML file, then a builtin
// default.
type Options struct {
	PositionalDevices []string
	ServerAddr        string
	PingInterval      time.Duration
	PingTimeout       time.Duration
	ReconnectDelay    time.Duration
	DiscoveryDelay    time.Duration
	SubscribeDelay    time.Duration
	LogLevel          string
}

const devicesEnvVar = "PARAMBUS_DEVICES"

// Resolve merges CLI flags, the PARAMBUS_DEVICES env var, and the YAML
// file in that priority order, then applies builtin defaults for
// anything still unset.
func Resolve(opts Options, file File) Resolved {
	r := Resolved{
		Devices:        resolveDevices(opts.PositionalDevices, file.Devices),
		ServerAddr:     firstNonEmpty(opts.ServerAddr, file.ServerAddr, ":8765"),
		PingInterval:   firstPositiveDuration(opts.PingInterval, msToDuration(file.PingIntervalMs), 30*time.Second),
		PingTimeout:    firstPositiveDuration(opts.PingTimeout, msToDuration(file.PingTimeoutMs), 10*time.Second),
		ReconnectDelay: firstPositiveDuration(opts.ReconnectDelay, msToDuration(file.ReconnectMs), 5*time.Second),
		DiscoveryDelay: firstPositiveDuration(opts.DiscoveryDelay, msToDuration(file.DiscoveryMs), 50*time.Millisecond),
		SubscribeDelay: firstPositiveDuration(opts.SubscribeDelay, msToDuration(file.SubscribeMs), 20*time.Millisecond),
		LogLevel:       firstNonEmpty(opts.LogLevel, file.LogLevel, "info"),
	}
	return r
}

// resolveDevices implements spec.md §6's exact priority: CLI args win
// outright when present; otherwise the env var; otherwise the file.
func resolveDevices(cliArgs, fileDevices []string) []string {
	if len(cliArgs) > 0 {
		return cliArgs
	}
	if raw := os.Getenv(devicesEnvVar); raw != "" {
		var out []string
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return fileDevices
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositiveDuration(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func msToDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
