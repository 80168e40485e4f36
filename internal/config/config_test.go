package config

import (
	"os"
	"testing"
	"time"
)

func TestResolveDevicesPriorityCLIWins(t *testing.T) {
	t.Setenv("PARAMBUS_DEVICES", "10.0.0.1:8765")
	r := Resolve(Options{PositionalDevices: []string{"10.0.0.2:8765"}}, File{Devices: []string{"10.0.0.3:8765"}})
	if len(r.Devices) != 1 || r.Devices[0] != "10.0.0.2:8765" {
		t.Fatalf("expected CLI-provided device to win, got %v", r.Devices)
	}
}

func TestResolveDevicesPriorityEnvOverFile(t *testing.T) {
	t.Setenv("PARAMBUS_DEVICES", "10.0.0.1:8765, 10.0.0.9:8765")
	r := Resolve(Options{}, File{Devices: []string{"10.0.0.3:8765"}})
	if len(r.Devices) != 2 || r.Devices[0] != "10.0.0.1:8765" || r.Devices[1] != "10.0.0.9:8765" {
		t.Fatalf("expected env-var devices, got %v", r.Devices)
	}
}

func TestResolveDevicesFallsBackToFile(t *testing.T) {
	os.Unsetenv("PARAMBUS_DEVICES")
	r := Resolve(Options{}, File{Devices: []string{"10.0.0.3:8765"}})
	if len(r.Devices) != 1 || r.Devices[0] != "10.0.0.3:8765" {
		t.Fatalf("expected file-provided devices, got %v", r.Devices)
	}
}

func TestResolveAppliesDefaults(t *testing.T) {
	os.Unsetenv("PARAMBUS_DEVICES")
	r := Resolve(Options{}, File{})
	if r.ServerAddr != ":8765" {
		t.Errorf("expected default server addr :8765, got %q", r.ServerAddr)
	}
	if r.PingInterval != 30*time.Second {
		t.Errorf("expected default ping interval 30s, got %v", r.PingInterval)
	}
	if r.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", r.LogLevel)
	}
}

func TestResolveCLIDurationOverridesFile(t *testing.T) {
	os.Unsetenv("PARAMBUS_DEVICES")
	r := Resolve(Options{PingInterval: 5 * time.Second}, File{PingIntervalMs: 15000})
	if r.PingInterval != 5*time.Second {
		t.Errorf("expected CLI duration to win, got %v", r.PingInterval)
	}
}

func TestLoadFileMissingPathIsNotError(t *testing.T) {
	f, err := LoadFile("")
	if err != nil {
		t.Fatalf("expected no error for empty path, got %v", err)
	}
	if len(f.Devices) != 0 {
		t.Errorf("expected zero-value File, got %+v", f)
	}
}

func TestLoadFileNonexistentPathIsNotError(t *testing.T) {
	f, err := LoadFile("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected missing file to not error, got %v", err)
	}
	if len(f.Devices) != 0 {
		t.Errorf("expected zero-value File, got %+v", f)
	}
}
