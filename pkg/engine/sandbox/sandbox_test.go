package sandbox

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
)

func buildBundle(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating bundle: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := map[string]string{
		"descriptor.json":               "{}",
		"web_app/app.py":                "print('web')\n",
		"inference_app/app.py":          "print('inference')\n",
		"inference_app/requirements.txt": "flask\n",
	}
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close(): %v", err)
	}
}

func TestExtractHalf(t *testing.T) {
	root := t.TempDir()
	bundlePath := filepath.Join(root, "bundle.zip")
	buildBundle(t, bundlePath)

	dest := t.TempDir()
	if err := extractHalf(bundlePath, "inference_app", dest); err != nil {
		t.Fatalf("extractHalf() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "app.py")); err != nil {
		t.Errorf("expected app.py extracted, stat error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "requirements.txt")); err != nil {
		t.Errorf("expected requirements.txt extracted, stat error: %v", err)
	}
}

func TestWriteAugmentedDescriptor(t *testing.T) {
	dir := t.TempDir()
	desc := &domain.Descriptor{Name: "ocr", Version: "1.0.0"}

	if err := writeAugmentedDescriptor(dir, desc, domain.Inference, "abc123", 9001); err != nil {
		t.Fatalf("writeAugmentedDescriptor() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "descriptor.json"))
	if err != nil {
		t.Fatalf("reading augmented descriptor: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshaling augmented descriptor: %v", err)
	}
	if got["instance_id"] != "abc123" {
		t.Errorf("instance_id = %v, want abc123", got["instance_id"])
	}
	if got["port"].(float64) != 9001 {
		t.Errorf("port = %v, want 9001", got["port"])
	}
}

func TestUnionRequirements(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("numpy\nflask\n"), 0644); err != nil {
		t.Fatalf("writing requirements.txt: %v", err)
	}
	desc := &domain.Descriptor{Requirements: domain.Requirements{InferenceApp: []string{"flask", "torch"}}}

	got := unionRequirements(desc, domain.Inference, dir)
	want := []string{"flask", "torch", "numpy"}
	if len(got) != len(want) {
		t.Fatalf("unionRequirements() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("unionRequirements()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProvision(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in test environment")
	}

	root := t.TempDir()
	bundlePath := filepath.Join(root, "bundle.zip")
	buildBundle(t, bundlePath)

	desc := &domain.Descriptor{Requirements: domain.Requirements{InferenceApp: []string{}}}
	p := New(root, "python3", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := p.Provision(ctx, "ocr", bundlePath, desc, domain.Inference, "inst-1", 9100, nil)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if _, err := os.Stat(result.Interpreter); err != nil {
		t.Errorf("expected venv interpreter at %s, stat error: %v", result.Interpreter, err)
	}
}
