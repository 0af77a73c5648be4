package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llmops-platform/controlplane/pkg/engine/bundler"
	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/errs"
	"github.com/llmops-platform/controlplane/pkg/engine/proxy"
)

const maxUploadSize = 256 << 20 // 256MiB, generous for a weight-bearing inference half

func loadDescriptor(path string) (*domain.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc domain.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps a sentinel engine error to an HTTP status code,
// per spec.md §7 / §4.6 "Exit codes".
func statusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidUpload), errors.Is(err, errs.ErrBundleMalformed):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAlreadyDeploying):
		return http.StatusConflict
	case errors.Is(err, errs.ErrBackendUnavailable):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrPortExhausted), errors.Is(err, errs.ErrSandboxFailure), errors.Is(err, errs.ErrSpawnFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "controlplane operator surface — see /models")
}

// handleUpload accepts the multipart upload (spec.md §6), packages it via
// the Bundler, registers the release, and kicks off a background
// deploy_both — the upload request itself never blocks on deployment.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	modelName := r.FormValue("model_name")
	if strings.TrimSpace(modelName) == "" {
		writeError(w, http.StatusBadRequest, "model_name is required")
		return
	}

	webZip, err := readFormFile(r, "web_app")
	if err != nil {
		writeError(w, http.StatusBadRequest, "web_app file is required: "+err.Error())
		return
	}
	infZip, err := readFormFile(r, "inference_app")
	if err != nil {
		writeError(w, http.StatusBadRequest, "inference_app file is required: "+err.Error())
		return
	}

	meta := bundlerMetadataFromForm(r)
	desc, bundlePath, err := s.Bundler.Package(modelName, webZip, infZip, meta)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	s.Registry.SetDescriptor(desc.Name, *desc, bundlePath)
	s.Deployer.DeployBothAsync(context.Background(), desc.Name)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"model_name": desc.Name,
		"deploying":  true,
	})
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func bundlerMetadataFromForm(r *http.Request) bundler.Metadata {
	return bundler.Metadata{
		Version:     r.FormValue("version"),
		Author:      r.FormValue("author"),
		Description: r.FormValue("description"),
	}
}

// handleModels lists model names on disk (spec.md §4.6), matching
// original_source/server.py's `os.listdir(UPLOAD_FOLDER)`.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	modelsDir := filepath.Join(s.RootDir, "models")
	entries, err := os.ReadDir(modelsDir)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"models": []string{}})
		return
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": names})
}

// handleModelView lazily triggers a deploy if the model has no running
// instance of either kind, then renders the current status (spec.md
// §4.6 "/model/<name>"). HTML rendering is explicitly out of scope
// (spec.md §1), so this returns the same JSON status shape as
// /model/<name>/status.
func (s *Server) handleModelView(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	if !s.ensureLoaded(model) {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}

	s.deployIfEmpty(model)
	s.writeStatus(w, model)
}

// handleAPIDoc restores original_source/server.py's api_doc_model feature:
// a best-effort JSON probe of a running inference instance, merged with
// the descriptor's endpoint catalog (SPEC_FULL §4.6).
func (s *Server) handleAPIDoc(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	if !s.ensureLoaded(model) {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}

	entry, _ := s.Registry.Get(model)
	doc := map[string]interface{}{
		"model":      model,
		"endpoints":  entry.Descriptor.EndpointCatalog,
		"introspect": nil,
	}

	if inst, ok := entry.PickRunning(domain.Inference); ok {
		client := http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(inst.URL + "/")
		if err == nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			var parsed interface{}
			if json.Unmarshal(body, &parsed) == nil {
				doc["introspect"] = parsed
			}
		}
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleInstances returns per-instance status, port, URL, and a log tail
// (spec.md §4.6).
func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	if !s.ensureLoaded(model) {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}
	entry, _ := s.Registry.Get(model)

	type instanceView struct {
		ID        string        `json:"id"`
		Kind      domain.Kind   `json:"kind"`
		Port      int           `json:"port"`
		Status    domain.Status `json:"status"`
		URL       string        `json:"url"`
		CreatedAt time.Time     `json:"created_at"`
		LogTail   string        `json:"log_tail"`
	}

	var views []instanceView
	for _, inst := range entry.AllInstances() {
		views = append(views, instanceView{
			ID: inst.ID, Kind: inst.Kind, Port: inst.Port, Status: inst.Status,
			URL: inst.URL, CreatedAt: inst.CreatedAt,
			LogTail: tailLog(inst.SandboxDir, 4096),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"model": model, "instances": views})
}

func tailLog(sandboxDir string, maxBytes int64) string {
	if sandboxDir == "" {
		return ""
	}
	path := filepath.Join(sandboxDir, "app.log")
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > maxBytes {
		offset = info.Size() - maxBytes
	}
	f.Seek(offset, io.SeekStart)
	data, _ := io.ReadAll(f)
	return string(data)
}

// handleStatus renders the JSON status shape spec.md §4.6 defines:
// {model, deploying, instances:[{type,id,port,url}]}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	if !s.ensureLoaded(model) {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}
	s.writeStatus(w, model)
}

func (s *Server) writeStatus(w http.ResponseWriter, model string) {
	entry, _ := s.Registry.Get(model)
	report := entry.Snapshot(model,
		s.Deployer.IsDeploying(model, domain.Web),
		s.Deployer.IsDeploying(model, domain.Inference),
	)
	writeJSON(w, http.StatusOK, report)
}

// handleCreateInstance starts one instance asynchronously, honoring the
// single-flight lock (spec.md §4.6).
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	if !s.ensureLoaded(model) {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}

	appType := r.FormValue("app_type")
	var kind domain.Kind
	switch appType {
	case string(domain.Web):
		kind = domain.Web
	case string(domain.Inference):
		kind = domain.Inference
	default:
		writeError(w, http.StatusBadRequest, "app_type must be web_app or inference_app")
		return
	}

	if s.Deployer.IsDeploying(model, kind) {
		writeError(w, http.StatusConflict, "deployment already in progress")
		return
	}

	s.Deployer.DeployAsync(context.Background(), model, kind)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"model": model, "app_type": appType, "deploying": true})
}

// handleStopInstance terminates an instance's process and marks it
// stopped (spec.md §4.6).
func (s *Server) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	if !s.ensureLoaded(model) {
		writeError(w, http.StatusNotFound, "unknown model")
		return
	}

	instanceID := r.FormValue("instance_id")
	entry, _ := s.Registry.Get(model)
	inst, kind, ok := entry.Find(instanceID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown instance")
		return
	}

	stopProcess(inst)
	entry.UpdateStatus(kind, instanceID, domain.StatusStopped)

	writeJSON(w, http.StatusOK, map[string]interface{}{"model": model, "instance_id": instanceID, "status": "stopped"})
}

// handleProxy forwards to a running inference instance (spec.md §4.5,
// §4.6 "/model/<name>/<subpath>").
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("name")
	subpath := r.PathValue("subpath")

	switch s.Proxy.ServeModel(w, r, model, subpath) {
	case proxy.UnknownModel:
		writeError(w, http.StatusNotFound, "unknown model")
	case proxy.Deploying:
		w.Header().Set("Retry-After", "3")
		writeError(w, http.StatusServiceUnavailable, "inference backend is deploying, retry shortly")
	}
}
