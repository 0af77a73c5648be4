// Package sandbox implements the Sandbox Provisioner (S): extracts one half
// of a bundle into an isolated directory and builds an isolated dependency
// environment rooted inside it (spec.md §4.2). Grounded on
// pkg/dmrlet/runtime/containerd.go's Run method (pull -> create -> start),
// with the containerd backend swapped for os/exec against a Python venv,
// matching original_source/server.py's subprocess-based venv/pip flow
// exactly (SPEC_FULL §4.2).
package sandbox

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/errs"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

// Provisioner builds sandboxes under RootDir/deployed_models.
type Provisioner struct {
	RootDir           string
	PythonInterpreter string
	Log               logging.Logger
}

// New returns a Provisioner rooted at rootDir, using interpreter to create
// venvs (typically "python3").
func New(rootDir, interpreter string, log logging.Logger) *Provisioner {
	return &Provisioner{RootDir: rootDir, PythonInterpreter: interpreter, Log: log}
}

// Result is what a successful Provision returns: the sandbox directory and
// the path to the interpreter the process-spawn step must invoke.
type Result struct {
	SandboxDir  string
	Interpreter string
	AppEntry    string // "app.py" relative to SandboxDir
}

// SandboxDirFor returns the deterministic sandbox directory path for a
// given model/kind/instance, so callers can create per-instance resources
// (such as an InstanceLogger) before calling Provision.
func SandboxDirFor(rootDir, model string, kind domain.Kind, instanceID string) string {
	return filepath.Join(rootDir, "deployed_models", model, fmt.Sprintf("%s_%s", kind, instanceID))
}

// Provision extracts kind's half of bundlePath into a fresh sandbox
// directory for instanceID, writes an augmented descriptor.json, and
// builds a venv with the union of desc.Requirements[kind] plus any
// additional entries the sandbox's own requirements.txt carries.
func (p *Provisioner) Provision(ctx context.Context, model string, bundlePath string, desc *domain.Descriptor, kind domain.Kind, instanceID string, port int, ilog *logging.InstanceLogger) (*Result, error) {
	sandboxDir := SandboxDirFor(p.RootDir, model, kind, instanceID)
	if err := os.MkdirAll(sandboxDir, 0755); err != nil {
		return nil, fmt.Errorf("creating sandbox dir: %w", errs.ErrSandboxFailure)
	}

	logf(ilog, "extracting %s half into %s", kind, sandboxDir)
	if err := extractHalf(bundlePath, string(kind), sandboxDir); err != nil {
		return nil, fmt.Errorf("extracting %s half: %w", kind, errs.ErrSandboxFailure)
	}

	if err := writeAugmentedDescriptor(sandboxDir, desc, kind, instanceID, port); err != nil {
		return nil, fmt.Errorf("writing augmented descriptor: %w", errs.ErrSandboxFailure)
	}

	venvDir := filepath.Join(sandboxDir, "venv")
	logf(ilog, "creating virtualenv at %s", venvDir)
	if err := p.createVenv(ctx, venvDir); err != nil {
		return nil, fmt.Errorf("creating venv: %w", errs.ErrSandboxFailure)
	}

	reqs := unionRequirements(desc, kind, sandboxDir)
	p.installRequirements(ctx, venvDir, reqs, ilog)

	return &Result{
		SandboxDir:  sandboxDir,
		Interpreter: venvPython(venvDir),
		AppEntry:    "app.py",
	}, nil
}

func logf(ilog *logging.InstanceLogger, format string, args ...interface{}) {
	if ilog != nil {
		ilog.Printf(format, args...)
	}
}

// extractHalf extracts only the entries under prefix+"/" from the bundle
// archive into destDir, stripping the prefix.
func extractHalf(bundlePath, prefix, destDir string) error {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", errs.ErrBundleMalformed)
	}
	defer r.Close()

	want := prefix + "/"
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, want) {
			continue
		}
		rel := strings.TrimPrefix(f.Name, want)
		if rel == "" {
			continue
		}
		target := filepath.Join(destDir, filepath.Clean(rel))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

// writeAugmentedDescriptor writes a writable copy of the descriptor into
// the sandbox, augmented with instance_id, kind, port, deployed_at, and
// app_dir (spec.md §4.2).
func writeAugmentedDescriptor(sandboxDir string, desc *domain.Descriptor, kind domain.Kind, instanceID string, port int) error {
	augmented := struct {
		*domain.Descriptor
		InstanceID string      `json:"instance_id"`
		Kind       domain.Kind `json:"kind"`
		Port       int         `json:"port"`
		DeployedAt time.Time   `json:"deployed_at"`
		AppDir     string      `json:"app_dir"`
	}{
		Descriptor: desc,
		InstanceID: instanceID,
		Kind:       kind,
		Port:       port,
		DeployedAt: time.Now(),
		AppDir:     sandboxDir,
	}

	data, err := json.MarshalIndent(augmented, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sandboxDir, "descriptor.json"), data, 0644)
}

// PatchInferenceURL rewrites the already-written descriptor.json in
// sandboxDir, adding/overwriting an inference_api_url field. Used by the
// Deployer's post-hoc wiring step once both halves of a deploy_both
// succeed (spec.md §4.3 "Post-hoc wiring").
func PatchInferenceURL(sandboxDir string, desc *domain.Descriptor, instanceID, inferenceURL string) error {
	path := filepath.Join(sandboxDir, "descriptor.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw["inference_api_url"] = inferenceURL

	out, err := json.MarshalIndent(raw, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

func (p *Provisioner) createVenv(ctx context.Context, venvDir string) error {
	cmd := exec.CommandContext(ctx, p.PythonInterpreter, "-m", "venv", venvDir)
	return cmd.Run()
}

func venvPython(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(venvDir, "bin", "python")
}

func venvPip(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", "pip.exe")
	}
	return filepath.Join(venvDir, "bin", "pip")
}

// unionRequirements combines the descriptor's per-kind requirement list
// with any additional entries the sandbox's own requirements.txt names,
// deduplicated, per spec.md §4.2: "installs the union of
// descriptor.requirements[kind] followed by any additional entries in the
// sandbox's requirements.txt".
func unionRequirements(desc *domain.Descriptor, kind domain.Kind, sandboxDir string) []string {
	var base []string
	switch kind {
	case domain.Web:
		base = desc.Requirements.WebApp
	case domain.Inference:
		base = desc.Requirements.InferenceApp
	}

	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base))
	for _, r := range base {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}

	extra, _ := parseSandboxRequirements(filepath.Join(sandboxDir, "requirements.txt"))
	for _, r := range extra {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func parseSandboxRequirements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// installRequirements installs each package sequentially via the venv's
// pip. A failed install is logged and the loop continues — best-effort,
// per spec.md §4.2 ("failures for a single dependency are logged but do
// not abort"), matching original_source/server.py's per-package
// try/except.
func (p *Provisioner) installRequirements(ctx context.Context, venvDir string, reqs []string, ilog *logging.InstanceLogger) {
	pip := venvPip(venvDir)
	for _, pkg := range reqs {
		logf(ilog, "installing dependency %s", pkg)
		cmd := exec.CommandContext(ctx, pip, "install", pkg)
		if out, err := cmd.CombinedOutput(); err != nil {
			logf(ilog, "failed to install %s: %v (%s)", pkg, err, strings.TrimSpace(string(out)))
			if p.Log != nil {
				p.Log.Warnf("sandbox dependency install failed for %s: %v", pkg, err)
			}
		}
	}
}
