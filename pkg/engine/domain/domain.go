// Package domain holds the shared types every engine component operates
// on: the release Descriptor, the running Instance record, and the Kind
// tagged variant distinguishing a model's web half from its inference half
// (spec.md §3, §9 "dynamic dispatch over half kind").
package domain

import "time"

// Kind distinguishes a model's two halves. Modeled as a tagged variant with
// a small capability record (KindSpec) rather than an interface hierarchy,
// since the two kinds differ only in a handful of concrete details.
type Kind string

const (
	Web       Kind = "web_app"
	Inference Kind = "inference_app"
)

// KindSpec carries the handful of facts that differ between Web and
// Inference: which bundle subtree to extract, and whether instances of
// this kind receive post-hoc inference-URL wiring.
type KindSpec struct {
	Dir               string // subtree name inside the bundle/release layout
	ReceivesInference bool   // true only for Web
}

// Spec returns the capability record for k.
func (k Kind) Spec() KindSpec {
	switch k {
	case Web:
		return KindSpec{Dir: "web_app", ReceivesInference: true}
	case Inference:
		return KindSpec{Dir: "inference_app", ReceivesInference: false}
	default:
		return KindSpec{Dir: string(k)}
	}
}

// Status is an Instance's lifecycle state (spec.md §3 Lifecycle).
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
)

// Requirements is the descriptor's dependency manifest, split per half plus
// the deduplicated union (spec.md §6 "Bundle archive format").
type Requirements struct {
	Combined     []string `json:"combined"`
	WebApp       []string `json:"web_app"`
	InferenceApp []string `json:"inference_app"`
}

// EndpointCatalog restores the original implementation's api_endpoints
// descriptor field (SPEC_FULL §4.1), rendered by the /model/<name>/api_doc
// route.
type EndpointCatalog struct {
	Predict string `json:"predict"`
	Health  string `json:"health"`
}

// Descriptor is the Release Descriptor (spec.md §3): one per packaged
// model, persisted as JSON at the release root and embedded in the bundle
// archive.
type Descriptor struct {
	Name            string              `json:"model_name"`
	Version         string              `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	Author          string              `json:"author,omitempty"`
	Description     string              `json:"description,omitempty"`
	ProjectRoot     string              `json:"project_root"`
	Paths           map[string]string   `json:"paths"`
	Files           map[string][]string `json:"files"`
	Requirements    Requirements        `json:"requirements"`
	InterfaceType   string              `json:"interface_type"`
	ModelWeights    []string            `json:"model_weights,omitempty"`
	EndpointCatalog EndpointCatalog     `json:"api_endpoints"`
	Instances       []InstanceRef       `json:"instances"`
}

// InstanceRef is the lightweight instance summary embedded in a descriptor
// (as opposed to the live Instance record held by the Registry).
type InstanceRef struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Port      int       `json:"port"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Instance is the Instance Record (spec.md §3): one per running half.
type Instance struct {
	ID              string
	Kind            Kind
	Port            int
	PID             int
	Status          Status
	URL             string
	CreatedAt       time.Time
	Deploying       bool
	SandboxDir      string
	InferenceAPIURL string // set only on Web instances, invariant 4
}

// ToRef projects an Instance down to the descriptor-embeddable InstanceRef.
func (i *Instance) ToRef() InstanceRef {
	return InstanceRef{
		ID:        i.ID,
		Kind:      i.Kind,
		Port:      i.Port,
		Status:    i.Status,
		CreatedAt: i.CreatedAt,
	}
}
