// Package proxy implements the Reverse Proxy (X): resolves a healthy
// inference backend and forwards an HTTP request to it 1:1, lazily
// triggering a deploy when none is running (spec.md §4.5). Grounded on
// pkg/inference/backends/nim.NIM.Run's use of net/http/httputil for
// backend forwarding, and on original_source/server.py's proxy_model_api
// for the exact header/cookie/status-code transparency contract and the
// hop-by-hop header strip list (SPEC_FULL §4.5).
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/llmops-platform/controlplane/pkg/engine/deploy"
	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

// hopByHopHeaders are stripped from the backend's response before it is
// returned to the client, matching original_source/server.py's
// `excluded_headers`.
var hopByHopHeaders = []string{"Content-Encoding", "Content-Length", "Transfer-Encoding", "Connection"}

// sessionHashDefault is the compatibility value original_source/server.py
// injects when the forwarded query string lacks a session_hash parameter
// (spec.md §4.5).
const sessionHashDefault = "1234"

// Proxy resolves and forwards model-scoped requests.
type Proxy struct {
	Registry *registry.Registry
	Deployer *deploy.Deployer
	Log      logging.Logger

	// InjectSessionHash decides, per model, whether the session_hash
	// compatibility quirk should be applied. New sets it to a function
	// that returns true for every model when the caller passes nil; no
	// descriptor field is consulted.
	InjectSessionHash func(model string) bool
}

// New returns a Proxy. If injectSessionHash is nil, the quirk is applied
// to every model (the original implementation's unconditional behavior).
func New(reg *registry.Registry, d *deploy.Deployer, log logging.Logger, injectSessionHash func(model string) bool) *Proxy {
	if injectSessionHash == nil {
		injectSessionHash = func(string) bool { return true }
	}
	return &Proxy{Registry: reg, Deployer: d, Log: log, InjectSessionHash: injectSessionHash}
}

// Outcome tells the HTTP Surface how to respond when ServeModel could not
// forward a request itself (it always forwards 200/4xx/5xx backend
// responses directly via http.ResponseWriter; Outcome is only populated on
// the "no backend" paths).
type Outcome int

const (
	// Forwarded means the request was proxied and ServeModel already
	// wrote the full response.
	Forwarded Outcome = iota
	// UnknownModel means the model has never been packaged.
	UnknownModel
	// Deploying means no backend is running; a deploy was started (or
	// was already in flight) and the caller should retry.
	Deploying
)

// ServeModel resolves a running inference instance for model and forwards
// the request's subpath (with its original query string) to it. It
// returns the Outcome so the HTTP Surface can render the right status
// page when no proxying occurred.
func (x *Proxy) ServeModel(w http.ResponseWriter, r *http.Request, model, subpath string) Outcome {
	entry, ok := x.Registry.Get(model)
	if !ok {
		return UnknownModel
	}

	inst, ok := entry.PickRunning(domain.Inference)
	if !ok {
		x.triggerDeployIfIdle(model)
		return Deploying
	}

	if err := x.forward(w, r, inst, subpath, model); err != nil {
		// spec.md §4.7: a forward that fails with a connection error
		// demotes the instance to failed and the proxy retries
		// pick_running once.
		x.Registry.UpdateStatus(model, domain.Inference, inst.ID, domain.StatusFailed)
		if x.Log != nil {
			x.Log.Warnf("proxy forward to %s failed, demoting instance %s: %v", inst.URL, inst.ID, err)
		}

		retryInst, ok := entry.PickRunning(domain.Inference)
		if !ok {
			x.triggerDeployIfIdle(model)
			return Deploying
		}
		if err := x.forward(w, r, retryInst, subpath, model); err != nil {
			x.Registry.UpdateStatus(model, domain.Inference, retryInst.ID, domain.StatusFailed)
			x.triggerDeployIfIdle(model)
			return Deploying
		}
	}

	return Forwarded
}

// triggerDeployIfIdle starts a background deploy using a context
// independent of the request that observed the cache miss. The request's
// own context is cancelled the moment its handler returns the 503, which
// would otherwise kill the venv-creation and pip-install subprocesses the
// Sandbox Provisioner spawns via exec.CommandContext mid-provision
// (spec.md §5 / DESIGN "they must not share the HTTP request's execution
// context").
func (x *Proxy) triggerDeployIfIdle(model string) {
	if x.Deployer == nil {
		return
	}
	if !x.Deployer.IsDeploying(model, domain.Inference) {
		x.Deployer.DeployAsync(context.Background(), model, domain.Inference)
	}
}

// forward proxies r to inst's subpath via httputil.ReverseProxy, with the
// Director pinned to the already-resolved instance so resolution and
// 503/404 decisions happen before any proxying begins (SPEC_FULL §4.5).
func (x *Proxy) forward(w http.ResponseWriter, r *http.Request, inst *domain.Instance, subpath, model string) error {
	target, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", inst.Port))
	if err != nil {
		return err
	}

	injectHash := x.InjectSessionHash(model)

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = "/" + strings.TrimPrefix(subpath, "/")
			req.Host = target.Host

			q := req.URL.Query()
			if injectHash && q.Get("session_hash") == "" {
				q.Set("session_hash", sessionHashDefault)
			}
			req.URL.RawQuery = q.Encode()
		},
		ModifyResponse: func(resp *http.Response) error {
			for _, h := range hopByHopHeaders {
				resp.Header.Del(h)
			}
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, proxyErr error) {
			err = proxyErr
		},
	}

	rp.ServeHTTP(w, r)
	return err
}
