// Package config holds the control plane's environment-driven configuration,
// populated the way the teacher's main.go reads MODEL_RUNNER_SOCK and
// MODELS_PATH: explicit defaults, overridable by env var, no config file.
package config

import (
	"os"
	"strconv"
)

// Config is the control plane's runtime configuration.
type Config struct {
	// ListenAddr is the HTTP Surface's listen address, e.g. ":5000".
	ListenAddr string

	// RootDir is the parent of the models/ (release archives) and
	// deployed_models/ (live instance working directories) trees.
	RootDir string

	// BaseDataPort is the first port the Port Allocator scans from.
	BaseDataPort int

	// EventSinkPath, if non-empty, enables the optional structured JSON
	// event sink at this file path.
	EventSinkPath string

	// PythonInterpreter is the interpreter used to create sandbox
	// virtualenvs and run pip/flask inside them.
	PythonInterpreter string
}

// Default returns the configuration's baseline defaults before environment
// overrides are applied.
func Default() Config {
	return Config{
		ListenAddr:        ":5000",
		RootDir:           "./data",
		BaseDataPort:      9000,
		EventSinkPath:     "",
		PythonInterpreter: "python3",
	}
}

// FromEnv returns Default() with every field overridable by its
// corresponding environment variable: PORT, CONTROLPLANE_ROOT_DIR,
// CONTROLPLANE_BASE_PORT, CONTROLPLANE_EVENT_SINK, CONTROLPLANE_PYTHON.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("CONTROLPLANE_ROOT_DIR"); v != "" {
		cfg.RootDir = v
	}
	if v := os.Getenv("CONTROLPLANE_BASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.BaseDataPort = port
		}
	}
	if v := os.Getenv("CONTROLPLANE_EVENT_SINK"); v != "" {
		cfg.EventSinkPath = v
	}
	if v := os.Getenv("CONTROLPLANE_PYTHON"); v != "" {
		cfg.PythonInterpreter = v
	}

	return cfg
}
