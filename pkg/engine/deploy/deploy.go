// Package deploy implements the Deployer (D): orchestrates sandbox
// provisioning plus process spawn per half, enforcing single-flight per
// (model, kind) (spec.md §4.3). The single-flight lock table and
// deploy_both parallelism are grounded on
// pkg/inference/scheduling.Scheduler.Run's errgroup.WithContext pattern
// (SPEC_FULL §4.3); process detachment uses syscall.SysProcAttr{Setsid:
// true}, the Go equivalent of original_source/server.py's
// start_new_session=True.
package deploy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/errs"
	"github.com/llmops-platform/controlplane/pkg/engine/ports"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
	"github.com/llmops-platform/controlplane/pkg/engine/sandbox"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

// PartialDeploymentError is returned by DeployBoth when at least one half
// fails; Succeeded is empty when both fail. Successful halves remain running and
// visible in the registry — they are not rolled back (spec.md §4.3
// "Deploy-both semantics").
type PartialDeploymentError struct {
	Succeeded []domain.Kind
	Failed    map[domain.Kind]error
}

func (e *PartialDeploymentError) Error() string {
	return fmt.Sprintf("partial deployment: succeeded=%v failed=%v", e.Succeeded, e.Failed)
}

// Deployer coordinates provisioning and process launch for both halves of
// a model.
type Deployer struct {
	RootDir  string
	Registry *registry.Registry
	Ports    *ports.Allocator
	Sandbox  *sandbox.Provisioner
	Spawner  Spawner
	Log      logging.Logger
	Sink     *logging.EventSink

	specBuilder ProcessSpecBuilder

	mu    sync.Mutex
	locks map[string]bool
}

// New returns a Deployer. If spawner is nil, a real os/exec-backed Spawner
// is used.
func New(rootDir string, reg *registry.Registry, p *ports.Allocator, sb *sandbox.Provisioner, spawner Spawner, log logging.Logger, sink *logging.EventSink) *Deployer {
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	return &Deployer{
		RootDir:  rootDir,
		Registry: reg,
		Ports:    p,
		Sandbox:  sb,
		Spawner:  spawner,
		Log:      log,
		Sink:     sink,
		locks:    make(map[string]bool),
	}
}

func lockKey(model string, kind domain.Kind) string {
	return model + "|" + string(kind)
}

// tryLock attempts to acquire the single-flight lock for (model, kind);
// returns false if already held.
func (d *Deployer) tryLock(model string, kind domain.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := lockKey(model, kind)
	if d.locks[key] {
		return false
	}
	d.locks[key] = true
	return true
}

func (d *Deployer) unlock(model string, kind domain.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.locks, lockKey(model, kind))
}

// IsDeploying reports whether (model, kind) currently holds the
// single-flight lock.
func (d *Deployer) IsDeploying(model string, kind domain.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks[lockKey(model, kind)]
}

// Deploy runs the per-deployment procedure (spec.md §4.3 steps 1-5)
// synchronously, returning the resulting Instance or an error.
func (d *Deployer) Deploy(ctx context.Context, model string, kind domain.Kind) (*domain.Instance, error) {
	if !d.tryLock(model, kind) {
		return nil, fmt.Errorf("%s/%s: %w", model, kind, errs.ErrAlreadyDeploying)
	}
	defer d.unlock(model, kind)

	entry, ok := d.Registry.Get(model)
	if !ok {
		return nil, fmt.Errorf("model %q has no packaged release: %w", model, errs.ErrBackendUnavailable)
	}

	instanceID := uuid.NewString()
	port, err := d.Ports.Allocate(instanceID)
	if err != nil {
		return nil, err
	}

	inst := &domain.Instance{
		ID:        instanceID,
		Kind:      kind,
		Port:      port,
		Status:    domain.StatusInitializing,
		Deploying: true,
		CreatedAt: time.Now(),
		URL:       fmt.Sprintf("http://127.0.0.1:%d", port),
	}
	d.Registry.AppendInstance(model, kind, inst)

	sandboxDir := sandbox.SandboxDirFor(d.RootDir, model, kind, instanceID)
	if err := os.MkdirAll(sandboxDir, 0755); err != nil {
		d.fail(model, kind, instanceID, port)
		return nil, fmt.Errorf("creating sandbox dir: %w", errs.ErrSandboxFailure)
	}
	inst.SandboxDir = sandboxDir

	ilog, ilogErr := logging.NewInstanceLogger(sandboxDir, d.Log)
	if ilogErr != nil && d.Log != nil {
		d.Log.Warnf("could not open instance log for %s/%s/%s: %v", model, kind, instanceID, ilogErr)
	}
	if ilog != nil {
		defer ilog.Close()
	}

	desc := entry.Descriptor
	result, err := d.Sandbox.Provision(ctx, model, entry.BundlePath, &desc, kind, instanceID, port, ilog)
	if err != nil {
		d.fail(model, kind, instanceID, port)
		return nil, err
	}

	var inferenceAPIURL string
	if kind == domain.Web {
		if running, ok := entry.PickRunning(domain.Inference); ok {
			inferenceAPIURL = running.URL
		}
	}

	spec := d.specBuilder.Build(kind, model, instanceID, result.Interpreter, result.SandboxDir, result.AppEntry, port, inferenceAPIURL)

	pid, wait, err := d.Spawner.Spawn(ctx, spec, ilog)
	if err != nil {
		d.fail(model, kind, instanceID, port)
		return nil, fmt.Errorf("spawning %s/%s process: %w", model, kind, errs.ErrSpawnFailure)
	}

	inst.PID = pid
	inst.InferenceAPIURL = inferenceAPIURL
	d.Registry.UpdateStatus(model, kind, instanceID, domain.StatusRunning)
	inst.Status = domain.StatusRunning
	inst.Deploying = false

	// Reap the child when it exits so it never becomes a zombie. This
	// does not mark the instance failed: spec.md §4.7 requires process
	// death to be detected lazily, on the next proxy attempt.
	go wait()

	if d.Sink != nil {
		d.Sink.Publish(fmt.Sprintf("deployed %s %s instance %s on port %d", model, kind, instanceID, port))
	}

	return inst, nil
}

func (d *Deployer) fail(model string, kind domain.Kind, instanceID string, port int) {
	d.Registry.UpdateStatus(model, kind, instanceID, domain.StatusFailed)
	d.Ports.Release(instanceID)
}

// DeployAsync starts Deploy in the background and logs the outcome; the
// caller observes progress only via the Registry (spec.md §9 "coroutine
// style background work").
func (d *Deployer) DeployAsync(ctx context.Context, model string, kind domain.Kind) {
	go func() {
		if _, err := d.Deploy(ctx, model, kind); err != nil && d.Log != nil {
			d.Log.Warnf("background deploy of %s/%s failed: %v", model, kind, err)
		}
	}()
}

// DeployBoth provisions and launches both halves in parallel
// (spec.md §4.3 "Deploy-both semantics"), using errgroup.WithContext the
// same way the teacher's scheduler runs its installer and loader workers
// concurrently. On success it performs the post-hoc wiring step: the new
// web instance's sandbox descriptor is updated with the new inference
// instance's URL.
func (d *Deployer) DeployBoth(ctx context.Context, model string) (web, inference *domain.Instance, err error) {
	g, gctx := errgroup.WithContext(ctx)

	results := make(map[domain.Kind]*domain.Instance, 2)
	errors := make(map[domain.Kind]error, 2)
	var mu sync.Mutex

	for _, kind := range []domain.Kind{domain.Web, domain.Inference} {
		kind := kind
		g.Go(func() error {
			inst, deployErr := d.Deploy(gctx, model, kind)
			mu.Lock()
			defer mu.Unlock()
			if deployErr != nil {
				errors[kind] = deployErr
			} else {
				results[kind] = inst
			}
			return nil // never short-circuit the other half
		})
	}
	g.Wait()

	web = results[domain.Web]
	inference = results[domain.Inference]

	if len(errors) > 0 {
		var succeeded []domain.Kind
		for k := range results {
			succeeded = append(succeeded, k)
		}
		return web, inference, &PartialDeploymentError{Succeeded: succeeded, Failed: errors}
	}

	if web != nil && inference != nil {
		web.InferenceAPIURL = inference.URL
		d.rewireWebDescriptor(model, web, inference)
	}

	return web, inference, nil
}

// rewireWebDescriptor patches the already-written sandbox descriptor.json
// for the web instance with the inference instance's URL, matching
// original_source/server.py's post-hoc descriptor rewrite after both
// halves of a deploy_both succeed.
func (d *Deployer) rewireWebDescriptor(model string, web, inference *domain.Instance) {
	entry, ok := d.Registry.Get(model)
	if !ok {
		return
	}
	desc := entry.Descriptor
	if err := sandbox.PatchInferenceURL(web.SandboxDir, &desc, web.ID, inference.URL); err != nil && d.Log != nil {
		d.Log.Warnf("could not rewire inference URL into web sandbox descriptor for %s: %v", model, err)
	}
}

// DeployBothAsync starts DeployBoth in the background.
func (d *Deployer) DeployBothAsync(ctx context.Context, model string) {
	go func() {
		if _, _, err := d.DeployBoth(ctx, model); err != nil && d.Log != nil {
			d.Log.Warnf("background deploy_both of %s failed: %v", model, err)
		}
	}()
}
