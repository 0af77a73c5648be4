package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"os/exec"
	"sync"
	"testing"

	"github.com/llmops-platform/controlplane/pkg/engine/bundler"
	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/errs"
	"github.com/llmops-platform/controlplane/pkg/engine/ports"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
	"github.com/llmops-platform/controlplane/pkg/engine/sandbox"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

type fakeSpawner struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeSpawner) Spawn(ctx context.Context, spec ProcessSpec, ilog *logging.InstanceLogger) (int, func() error, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return 0, nil, errs.ErrSpawnFailure
	}
	return 4242, func() error { return nil }, nil
}

func setup(t *testing.T, spawner Spawner) (*Deployer, string) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in test environment")
	}

	root := t.TempDir()
	b := bundler.New(root, nil)

	webZip := buildZip(t, map[string]string{"app.py": "x"})
	infZip := buildZip(t, map[string]string{"app.py": "x"})
	desc, bundlePath, err := b.Package("ocr", webZip, infZip, bundler.Metadata{})
	if err != nil {
		t.Fatalf("Package() error = %v", err)
	}

	reg := registry.New()
	reg.SetDescriptor("ocr", *desc, bundlePath)

	p := ports.NewAllocator(21000, 21100)
	sb := sandbox.New(root, "python3", nil)

	d := New(root, reg, p, sb, spawner, nil, nil)
	return d, "ocr"
}

func TestDeploySingleFlight(t *testing.T) {
	spawner := &fakeSpawner{}
	d, model := setup(t, spawner)

	if !d.tryLock(model, domain.Inference) {
		t.Fatal("tryLock() first call should succeed")
	}
	if d.tryLock(model, domain.Inference) {
		t.Fatal("tryLock() second concurrent call should fail")
	}
	d.unlock(model, domain.Inference)
	if !d.tryLock(model, domain.Inference) {
		t.Fatal("tryLock() after unlock should succeed")
	}
}

func TestDeploySuccess(t *testing.T) {
	spawner := &fakeSpawner{}
	d, model := setup(t, spawner)

	inst, err := d.Deploy(context.Background(), model, domain.Inference)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if inst.Status != domain.StatusRunning {
		t.Errorf("Status = %v, want running", inst.Status)
	}
	if inst.Deploying {
		t.Error("Deploying = true, want false after success")
	}
	if inst.PID != 4242 {
		t.Errorf("PID = %d, want 4242", inst.PID)
	}

	if d.IsDeploying(model, domain.Inference) {
		t.Error("IsDeploying() = true after successful Deploy, want false (lock released)")
	}
}

func TestDeployFailureReleasesPortAndMarksFailed(t *testing.T) {
	spawner := &fakeSpawner{fail: true}
	d, model := setup(t, spawner)

	_, err := d.Deploy(context.Background(), model, domain.Inference)
	if err == nil {
		t.Fatal("Deploy() with failing spawner: want error, got nil")
	}

	entry, _ := d.Registry.Get(model)
	if len(entry.InferenceInstances) != 1 {
		t.Fatalf("InferenceInstances = %d, want 1 (failed record retained)", len(entry.InferenceInstances))
	}
	if entry.InferenceInstances[0].Status != domain.StatusFailed {
		t.Errorf("Status = %v, want failed", entry.InferenceInstances[0].Status)
	}
	if port, ok := d.Ports.GetPort(entry.InferenceInstances[0].ID); ok {
		t.Errorf("port %d still held after failed Deploy, want released", port)
	}
}

func TestDeployBothDeploysAndWiresBothHalves(t *testing.T) {
	spawner := &fakeSpawner{}
	d, model := setup(t, spawner)

	web, inference, err := d.DeployBoth(context.Background(), model)
	if err != nil {
		t.Fatalf("DeployBoth() error = %v", err)
	}
	if web == nil || inference == nil {
		t.Fatal("DeployBoth() returned a nil instance")
	}
	if web.InferenceAPIURL != inference.URL {
		t.Errorf("web.InferenceAPIURL = %q, want %q (post-hoc wiring)", web.InferenceAPIURL, inference.URL)
	}
	if spawner.calls != 2 {
		t.Errorf("spawner calls = %d, want 2", spawner.calls)
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
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
	return buf.Bytes()
}
