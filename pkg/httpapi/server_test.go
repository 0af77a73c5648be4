package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"github.com/llmops-platform/controlplane/pkg/engine/bundler"
	"github.com/llmops-platform/controlplane/pkg/engine/deploy"
	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/ports"
	"github.com/llmops-platform/controlplane/pkg/engine/proxy"
	"github.com/llmops-platform/controlplane/pkg/engine/registry"
	"github.com/llmops-platform/controlplane/pkg/engine/sandbox"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

type fakeSpawner struct{}

func (fakeSpawner) Spawn(ctx context.Context, spec deploy.ProcessSpec, ilog *logging.InstanceLogger) (int, func() error, error) {
	return 1234, func() error { return nil }, nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in test environment")
	}

	root := t.TempDir()
	b := bundler.New(root, nil)
	reg := registry.New()
	pAlloc := ports.NewAllocator(22000, 22100)
	sb := sandbox.New(root, "python3", nil)
	d := deploy.New(root, reg, pAlloc, sb, fakeSpawner{}, nil, nil)
	x := proxy.New(reg, d, nil, nil)

	return New(root, b, d, reg, x, nil), root
}

func zipWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
		w.Write([]byte(content))
	}
	zw.Close()
	return buf.Bytes()
}

func multipartUpload(t *testing.T, modelName string, webZip, infZip []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("model_name", modelName)

	webPart, _ := mw.CreateFormFile("web_app", "web_app.zip")
	webPart.Write(webZip)
	infPart, _ := mw.CreateFormFile("inference_app", "inference_app.zip")
	infPart.Write(infZip)

	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandleModelsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	w := httptest.NewRecorder()

	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUploadThenStatus(t *testing.T) {
	s, _ := newTestServer(t)

	webZip := zipWith(t, map[string]string{"app.py": "x"})
	infZip := zipWith(t, map[string]string{"app.py": "x"})
	body, contentType := multipartUpload(t, "ocr", webZip, infZip)

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, want 202, body=%s", w.Code, w.Body.String())
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/model/ocr/status", nil)
	statusW := httptest.NewRecorder()
	s.Router().ServeHTTP(statusW, statusReq)
	if statusW.Code != http.StatusOK {
		t.Fatalf("status route = %d, want 200, body=%s", statusW.Code, statusW.Body.String())
	}
}

func TestHandleProxyUnknownModel(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/model/ghost/predict", nil)
	w := httptest.NewRecorder()

	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleStopInstanceUnknown(t *testing.T) {
	s, root := newTestServer(t)
	_ = root

	s.Registry.GetOrCreate("ocr")
	s.Registry.SetDescriptor("ocr", domain.Descriptor{Name: "ocr"}, "")

	req := httptest.NewRequest(http.MethodPost, "/model/ocr/stop_instance", nil)
	req.Form = map[string][]string{"instance_id": {"missing"}}
	w := httptest.NewRecorder()

	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
