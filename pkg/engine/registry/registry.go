// Package registry implements the Registry (R): an in-memory, concurrent
// map from model name to Model Entry (spec.md §3, §4.4). Grounded on
// pkg/dmrlet/inference.Manager's `running map[string]*RunningModel` plus
// sync.RWMutex pattern, generalized from a flat map to the two-level
// model -> {web, inference} structure spec.md §3 requires.
package registry

import (
	"math/rand/v2"
	"sync"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
)

// Entry is the Model Entry (spec.md §3): per-model descriptor, bundle
// location, and the live instances of each kind.
type Entry struct {
	mu                 sync.RWMutex
	Descriptor         domain.Descriptor
	BundlePath         string
	WebInstances       []*domain.Instance
	InferenceInstances []*domain.Instance
}

func (e *Entry) slice(kind domain.Kind) *[]*domain.Instance {
	if kind == domain.Web {
		return &e.WebInstances
	}
	return &e.InferenceInstances
}

// InstanceSummary is the per-instance projection returned in a StatusReport.
type InstanceSummary struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// StatusReport is the JSON shape the HTTP Surface's status route returns
// (spec.md §4.6).
type StatusReport struct {
	Model     string            `json:"model"`
	Deploying bool              `json:"deploying"`
	Instances []InstanceSummary `json:"instances"`
}

// Registry is the process-wide map of models to live instance state. The
// zero value is not usable; construct with New.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{models: make(map[string]*Entry)}
}

// GetOrCreate returns the Entry for model, creating an empty one if none
// exists yet.
func (r *Registry) GetOrCreate(model string) *Entry {
	r.mu.RLock()
	e, ok := r.models[model]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.models[model]; ok {
		return e
	}
	e = &Entry{}
	r.models[model] = e
	return e
}

// Get returns the Entry for model, if one exists.
func (r *Registry) Get(model string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[model]
	return e, ok
}

// Has reports whether model has an entry in this process's Registry (its
// release was registered, or an instance was added). A release on disk
// that has not been loaded yet is not reported.
func (r *Registry) Has(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[model]
	return ok
}

// ModelNames returns every known model name.
func (r *Registry) ModelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// AllInstances returns a snapshot of every instance of every model, for
// callers that need to tear down every live process on shutdown.
func (r *Registry) AllInstances() []*domain.Instance {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.models))
	for _, e := range r.models {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var all []*domain.Instance
	for _, e := range entries {
		all = append(all, e.AllInstances()...)
	}
	return all
}

// SetDescriptor records desc and bundlePath against model's entry.
func (r *Registry) SetDescriptor(model string, desc domain.Descriptor, bundlePath string) {
	e := r.GetOrCreate(model)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Descriptor = desc
	e.BundlePath = bundlePath
}

// AppendInstance adds inst to model's list of kind instances.
func (e *Entry) AppendInstance(kind domain.Kind, inst *domain.Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.slice(kind)
	*s = append(*s, inst)
}

// AppendInstance adds inst to model's list of kind instances, creating the
// entry if needed.
func (r *Registry) AppendInstance(model string, kind domain.Kind, inst *domain.Instance) {
	r.GetOrCreate(model).AppendInstance(kind, inst)
}

// UpdateStatus transitions the named instance's status. No-op if the
// instance isn't found.
func (e *Entry) UpdateStatus(kind domain.Kind, id string, status domain.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, inst := range *e.slice(kind) {
		if inst.ID == id {
			inst.Status = status
			if status == domain.StatusRunning {
				inst.Deploying = false
			}
			return
		}
	}
}

// UpdateStatus transitions the named instance of model, creating no entry
// if model is unknown.
func (r *Registry) UpdateStatus(model string, kind domain.Kind, id string, status domain.Status) {
	if e, ok := r.Get(model); ok {
		e.UpdateStatus(kind, id, status)
	}
}

// PickRunning selects uniformly at random among kind's running instances
// for load balancing (spec.md §4.4). Returns (nil, false) if none are
// running.
func (e *Entry) PickRunning(kind domain.Kind) (*domain.Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var running []*domain.Instance
	for _, inst := range *e.slice(kind) {
		if inst.Status == domain.StatusRunning {
			running = append(running, inst)
		}
	}
	if len(running) == 0 {
		return nil, false
	}
	return running[rand.IntN(len(running))], true
}

// PickRunning selects a running instance of kind for model.
func (r *Registry) PickRunning(model string, kind domain.Kind) (*domain.Instance, bool) {
	e, ok := r.Get(model)
	if !ok {
		return nil, false
	}
	return e.PickRunning(kind)
}

// HasRunning reports whether model has at least one running instance of
// kind, used by the HTTP Surface's lazy deploy check.
func (e *Entry) HasRunning(kind domain.Kind) bool {
	_, ok := e.PickRunning(kind)
	return ok
}

// AllInstances returns a snapshot of every instance across both kinds, for
// callers (e.g. the HTTP Surface's instance listing) that need to read the
// full set without reading Entry's instance slices outside its lock.
func (e *Entry) AllInstances() []*domain.Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := make([]*domain.Instance, 0, len(e.WebInstances)+len(e.InferenceInstances))
	all = append(all, e.WebInstances...)
	all = append(all, e.InferenceInstances...)
	return all
}

// Find locates an instance by ID across both kinds.
func (e *Entry) Find(id string) (*domain.Instance, domain.Kind, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, inst := range e.WebInstances {
		if inst.ID == id {
			return inst, domain.Web, true
		}
	}
	for _, inst := range e.InferenceInstances {
		if inst.ID == id {
			return inst, domain.Inference, true
		}
	}
	return nil, "", false
}

// Snapshot builds the JSON status view for model (spec.md §4.6
// /model/<name>/status). deploying reports true only when kind has no
// running instance and a deploy is in flight, per spec.md: "deploying=true
// only when no running instance of that kind exists" — webDeploying and
// inferenceDeploying are supplied by the caller (the Deployer's lock table), since the Registry
// itself does not track single-flight state.
func (e *Entry) Snapshot(model string, webDeploying, inferenceDeploying bool) StatusReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	report := StatusReport{Model: model}
	for _, inst := range e.WebInstances {
		report.Instances = append(report.Instances, InstanceSummary{
			Type: string(domain.Web), ID: inst.ID, Port: inst.Port, URL: inst.URL,
		})
	}
	for _, inst := range e.InferenceInstances {
		report.Instances = append(report.Instances, InstanceSummary{
			Type: string(domain.Inference), ID: inst.ID, Port: inst.Port, URL: inst.URL,
		})
	}

	webRunning := hasStatus(e.WebInstances, domain.StatusRunning)
	infRunning := hasStatus(e.InferenceInstances, domain.StatusRunning)
	report.Deploying = (webDeploying && !webRunning) || (inferenceDeploying && !infRunning)

	return report
}

func hasStatus(instances []*domain.Instance, status domain.Status) bool {
	for _, inst := range instances {
		if inst.Status == status {
			return true
		}
	}
	return false
}
