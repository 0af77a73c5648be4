package config

import (
	"os"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("CONTROLPLANE_ROOT_DIR")
	os.Unsetenv("CONTROLPLANE_BASE_PORT")
	os.Unsetenv("CONTROLPLANE_EVENT_SINK")
	os.Unsetenv("CONTROLPLANE_PYTHON")

	got := FromEnv()
	want := Default()
	if got != want {
		t.Errorf("FromEnv() = %+v, want %+v", got, want)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CONTROLPLANE_ROOT_DIR", "/srv/data")
	t.Setenv("CONTROLPLANE_BASE_PORT", "7000")
	t.Setenv("CONTROLPLANE_EVENT_SINK", "/var/log/events.jsonl")
	t.Setenv("CONTROLPLANE_PYTHON", "python3.11")

	got := FromEnv()

	if got.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", got.ListenAddr, ":8080")
	}
	if got.RootDir != "/srv/data" {
		t.Errorf("RootDir = %q, want %q", got.RootDir, "/srv/data")
	}
	if got.BaseDataPort != 7000 {
		t.Errorf("BaseDataPort = %d, want %d", got.BaseDataPort, 7000)
	}
	if got.EventSinkPath != "/var/log/events.jsonl" {
		t.Errorf("EventSinkPath = %q, want %q", got.EventSinkPath, "/var/log/events.jsonl")
	}
	if got.PythonInterpreter != "python3.11" {
		t.Errorf("PythonInterpreter = %q, want %q", got.PythonInterpreter, "python3.11")
	}
}

func TestFromEnvInvalidBasePortIgnored(t *testing.T) {
	t.Setenv("CONTROLPLANE_BASE_PORT", "not-a-port")

	got := FromEnv()
	if got.BaseDataPort != Default().BaseDataPort {
		t.Errorf("BaseDataPort = %d, want default %d", got.BaseDataPort, Default().BaseDataPort)
	}
}
