package proxy

import (
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
)

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return port
}

func TestServeModelUnknownModel(t *testing.T) {
	x := New(registry.New(), nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/model/ghost/predict", nil)
	w := httptest.NewRecorder()

	if got := x.ServeModel(w, req, "ghost", "predict"); got != UnknownModel {
		t.Errorf("ServeModel() = %v, want UnknownModel", got)
	}
}

func TestServeModelNoRunningInstance(t *testing.T) {
	reg := registry.New()
	reg.GetOrCreate("ocr")

	x := New(reg, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/model/ocr/predict", nil)
	w := httptest.NewRecorder()

	if got := x.ServeModel(w, req, "ocr", "predict"); got != Deploying {
		t.Errorf("ServeModel() = %v, want Deploying", got)
	}
}

func TestServeModelForwardsAndStripsHopByHop(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("backend received path %q, want /predict", r.URL.Path)
		}
		if r.URL.Query().Get("session_hash") != "1234" {
			t.Errorf("backend query session_hash = %q, want 1234", r.URL.Query().Get("session_hash"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("X-Custom", "keep-me")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		gz.Write([]byte(`{"prediction":0}`))
		gz.Close()
	}))
	defer backend.Close()

	reg := registry.New()
	reg.AppendInstance("ocr", domain.Inference, &domain.Instance{
		ID: "i1", Status: domain.StatusRunning, Port: backendPort(t, backend),
	})

	x := New(reg, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/model/ocr/predict", nil)
	w := httptest.NewRecorder()

	got := x.ServeModel(w, req, "ocr", "predict")
	if got != Forwarded {
		t.Fatalf("ServeModel() = %v, want Forwarded", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != `{"prediction":0}` {
		t.Errorf("body = %q, want prediction JSON", w.Body.String())
	}
	if w.Header().Get("Content-Encoding") != "" {
		t.Error("Content-Encoding header should have been stripped")
	}
	if w.Header().Get("X-Custom") != "keep-me" {
		t.Error("X-Custom header should have been preserved")
	}
}
