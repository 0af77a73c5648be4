// Package httpapi implements the HTTP Surface (H): upload / list / inspect
// / status / proxy entry points (spec.md §4.6). Route table grounded on
// pkg/inference/scheduling.HTTPHandler's routeHandlers() map pattern,
// registered onto a Go 1.22+ http.ServeMux with method+pattern strings.
package httpapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/llmops-platform/controlplane/pkg/engine/bundler"
	"github.com/llmops-platform/controlplane/pkg/engine/deploy"
	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/proxy"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
	"github.com/llmops-platform/controlplane/pkg/internal/utils"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

// Server wires the engine components into an http.Handler.
type Server struct {
	RootDir  string
	Bundler  *bundler.Bundler
	Deployer *deploy.Deployer
	Registry *registry.Registry
	Proxy    *proxy.Proxy
	Log      logging.Logger
}

// New returns a Server.
func New(rootDir string, b *bundler.Bundler, d *deploy.Deployer, r *registry.Registry, x *proxy.Proxy, log logging.Logger) *Server {
	return &Server{RootDir: rootDir, Bundler: b, Deployer: d, Registry: r, Proxy: x, Log: log}
}

// Router builds the route table (spec.md §4.6). routeHandlers returns a
// map the way the teacher's scheduling.HTTPHandler does, so handler
// wiring and logging middleware stay in one place.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	for pattern, handler := range s.routeHandlers() {
		mux.HandleFunc(pattern, s.logged(handler))
	}
	return mux
}

func (s *Server) logged(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		if s.Log != nil {
			s.Log.Debugf("%s %s (%s)", r.Method, utils.SanitizeForLog(r.URL.Path), time.Since(start))
		}
	}
}

func (s *Server) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET /":                              s.handleIndex,
		"POST /upload":                       s.handleUpload,
		"GET /models":                        s.handleModels,
		"GET /model/{name}":                  s.handleModelView,
		"GET /model/{name}/api_doc":          s.handleAPIDoc,
		"GET /model/{name}/instances":        s.handleInstances,
		"GET /model/{name}/status":           s.handleStatus,
		"POST /model/{name}/create_instance": s.handleCreateInstance,
		"POST /model/{name}/stop_instance":   s.handleStopInstance,
		"/model/{name}/{subpath...}":         s.handleProxy,
	}
}

// ensureLoaded makes sure model's descriptor/bundle are in the Registry,
// loading them from disk on first reference if the process just started
// and the model was packaged in a previous run. The Registry is
// process-memory (spec.md Non-goals: "no durable state across restarts"),
// but the release archive on disk is — so a freshly started server can
// still discover and serve previously packaged models.
func (s *Server) ensureLoaded(model string) bool {
	if s.Registry.Has(model) {
		return true
	}
	descPath := filepath.Join(s.RootDir, "models", model, "release", "descriptor.json")
	if _, err := os.Stat(descPath); err != nil {
		return false
	}
	desc, err := loadDescriptor(descPath)
	if err != nil {
		if s.Log != nil {
			s.Log.Warnf("loading descriptor for %s: %v", model, err)
		}
		return false
	}
	bundlePath := filepath.Join(s.RootDir, "models", model, "release", model+".zip")
	s.Registry.SetDescriptor(model, *desc, bundlePath)
	return true
}

// deployIfEmpty starts a background deploy_both using context.Background,
// not the calling request's context: the request handler returns (and
// cancels its context) long before provisioning finishes, which would
// otherwise kill the venv-creation and pip-install subprocesses the
// Sandbox Provisioner runs via exec.CommandContext mid-provision (spec.md
// §5 / DESIGN "they must not share the HTTP request's execution
// context").
func (s *Server) deployIfEmpty(model string) {
	entry, ok := s.Registry.Get(model)
	webRunning := ok && entry.HasRunning(domain.Web)
	infRunning := ok && entry.HasRunning(domain.Inference)
	if webRunning || infRunning {
		return
	}
	if s.Deployer.IsDeploying(model, domain.Web) || s.Deployer.IsDeploying(model, domain.Inference) {
		return
	}
	s.Deployer.DeployBothAsync(context.Background(), model)
}
