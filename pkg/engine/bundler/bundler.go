// Package bundler implements the Bundler (B): validates an upload, writes
// release artifacts to disk, and emits the Release Descriptor (spec.md
// §4.1). Grounded on original_source/server.py's package_model function for
// the descriptor shape and requirements-parsing rules, and on
// pkg/distribution/builder/from_directory.go for the directory-walk idiom.
package bundler

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
	"github.com/llmops-platform/controlplane/pkg/engine/errs"
	"github.com/llmops-platform/controlplane/pkg/internal/utils"
	"github.com/llmops-platform/controlplane/pkg/logging"
)

// weightExtensions are the model-weight file suffixes the original
// implementation scans for inside the inference half.
var weightExtensions = map[string]bool{
	".pt":   true,
	".pth":  true,
	".onnx": true,
	".h5":   true,
}

// versionSpecifier matches the first pip version-constraint operator in a
// requirements.txt line, mirroring the original's
// `re.split(r'[=<>]', line)[0].strip()`.
var versionSpecifier = regexp.MustCompile(`[=<>]`)

// sanitizeBlocked are characters stripped or rejected from a model name,
// grounded on original_source/server.py's use of Flask's secure_filename
// plus an explicit shell-metacharacter deny-list (SPEC_FULL §4.1).
const sanitizeBlocked = ";&|$<>`\"'!"

// Metadata is the optional operator-supplied descriptor fields from the
// multipart upload (spec.md §6: "optional version, author, description").
type Metadata struct {
	Version     string
	Author      string
	Description string
}

// Bundler packages uploads into release archives under RootDir/models.
type Bundler struct {
	RootDir string
	Log     logging.Logger
}

// New returns a Bundler rooted at rootDir.
func New(rootDir string, log logging.Logger) *Bundler {
	return &Bundler{RootDir: rootDir, Log: log}
}

// SanitizeModelName strips path separators, `..` segments, and shell
// metacharacters from name, grounded on original_source/server.py's
// secure_filename call plus an explicit metacharacter deny-list.
func SanitizeModelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.ReplaceAll(name, "..", "")

	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(sanitizeBlocked, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if clean == "" {
		return "", fmt.Errorf("model name empty after sanitization: %w", errs.ErrInvalidUpload)
	}
	return clean, nil
}

// Package validates and packages a two-half upload. webZip and
// inferenceZip are the raw zip payloads; meta carries optional operator
// fields. Returns the emitted descriptor and the path to the assembled
// bundle archive.
func (b *Bundler) Package(modelName string, webZip, inferenceZip []byte, meta Metadata) (*domain.Descriptor, string, error) {
	name, err := SanitizeModelName(modelName)
	if err != nil {
		return nil, "", err
	}
	if len(webZip) == 0 || len(inferenceZip) == 0 {
		return nil, "", fmt.Errorf("both halves required: %w", errs.ErrInvalidUpload)
	}

	releaseDir := filepath.Join(b.RootDir, "models", name, "release")
	srcDir := filepath.Join(b.RootDir, "models", name, "src")
	webDir := filepath.Join(srcDir, string(domain.Web))
	infDir := filepath.Join(srcDir, string(domain.Inference))

	for _, dir := range []string{releaseDir, webDir, infDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	webFiles, err := extractZip(webZip, webDir)
	if err != nil {
		return nil, "", fmt.Errorf("extracting web_app half: %w", err)
	}
	infFiles, err := extractZip(inferenceZip, infDir)
	if err != nil {
		return nil, "", fmt.Errorf("extracting inference_app half: %w", err)
	}

	if !hasEntrypoint(webFiles) || !hasEntrypoint(infFiles) {
		return nil, "", fmt.Errorf("half missing app.py entrypoint: %w", errs.ErrInvalidUpload)
	}

	webReqs, err := parseRequirements(webDir)
	if err != nil {
		return nil, "", fmt.Errorf("reading web_app requirements: %w", err)
	}
	infReqs, err := parseRequirements(infDir)
	if err != nil {
		return nil, "", fmt.Errorf("reading inference_app requirements: %w", err)
	}
	combined := dedupeSorted(append(append([]string{}, webReqs...), infReqs...))

	weights, err := findWeightFiles(infDir)
	if err != nil {
		return nil, "", fmt.Errorf("scanning inference_app for weights: %w", err)
	}

	version := meta.Version
	if version == "" {
		version = "1.0.0"
	}

	desc := &domain.Descriptor{
		Name:        name,
		Version:     version,
		CreatedAt:   time.Now(),
		Author:      meta.Author,
		Description: meta.Description,
		ProjectRoot: filepath.Join(b.RootDir, "models", name),
		Paths: map[string]string{
			"release":       releaseDir,
			"web_app":       webDir,
			"inference_app": infDir,
		},
		Files: map[string][]string{
			"web_app":       webFiles,
			"inference_app": infFiles,
		},
		Requirements: domain.Requirements{
			Combined:     combined,
			WebApp:       webReqs,
			InferenceApp: infReqs,
		},
		InterfaceType: "dual",
		ModelWeights:  weights,
		EndpointCatalog: domain.EndpointCatalog{
			Predict: "/predict",
			Health:  "/health",
		},
		Instances: []domain.InstanceRef{},
	}

	if err := writeDescriptor(filepath.Join(releaseDir, "descriptor.json"), desc); err != nil {
		return nil, "", err
	}
	if err := writeDescriptor(filepath.Join(webDir, "descriptor.json"), desc); err != nil {
		return nil, "", err
	}
	if err := writeDescriptor(filepath.Join(infDir, "descriptor.json"), desc); err != nil {
		return nil, "", err
	}

	bundlePath := filepath.Join(releaseDir, name+".zip")
	if err := assembleBundle(bundlePath, desc, webDir, infDir); err != nil {
		return nil, "", fmt.Errorf("assembling bundle archive: %w", err)
	}

	if b.Log != nil {
		b.Log.Infof("packaged model %q: %d web files, %d inference files, %d combined requirements", utils.SanitizeForLog(name), len(webFiles), len(infFiles), len(combined))
	}

	return desc, bundlePath, nil
}

func hasEntrypoint(files []string) bool {
	for _, f := range files {
		if filepath.Base(f) == "app.py" {
			return true
		}
	}
	return false
}

// extractZip extracts the archive rooted at data into destDir, rejecting
// entries that would escape destDir via a path-traversal name, and returns
// the list of file paths relative to destDir.
func extractZip(data []byte, destDir string) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading zip: %w", errs.ErrBundleMalformed)
	}

	var files []string
	for _, f := range r.File {
		cleanName := filepath.Clean(f.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return nil, fmt.Errorf("zip entry %q escapes destination: %w", f.Name, errs.ErrBundleMalformed)
		}
		target := filepath.Join(destDir, cleanName)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening zip entry %q: %w", f.Name, errs.ErrBundleMalformed)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			rc.Close()
			return nil, err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return nil, copyErr
		}
		files = append(files, cleanName)
	}
	return files, nil
}

// parseRequirements reads dir/requirements.txt, stripping version pins the
// same way original_source/server.py does:
// `re.split(r'[=<>]', line)[0].strip()`, skipping blank lines and comments.
func parseRequirements(dir string) ([]string, error) {
	path := filepath.Join(dir, "requirements.txt")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reqs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name := strings.TrimSpace(versionSpecifier.Split(line, 2)[0])
		if name != "" {
			reqs = append(reqs, name)
		}
	}
	return reqs, scanner.Err()
}

// findWeightFiles walks dir for files whose extension is a recognized
// model-weight suffix, grounded on
// pkg/distribution/builder/from_directory.go's filepath walk plus
// extension-suffix classification.
func findWeightFiles(dir string) ([]string, error) {
	var weights []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if weightExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			rel, relErr := filepath.Rel(dir, path)
			if relErr != nil {
				return relErr
			}
			weights = append(weights, rel)
		}
		return nil
	})
	return weights, err
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func writeDescriptor(path string, desc *domain.Descriptor) error {
	data, err := json.MarshalIndent(desc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling descriptor: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing descriptor %s: %w", path, err)
	}
	return nil
}

// assembleBundle builds the canonical bundle archive: descriptor.json at
// the root, plus the web_app/ and inference_app/ trees (spec.md §6
// "Bundle archive format").
func assembleBundle(bundlePath string, desc *domain.Descriptor, webDir, infDir string) error {
	out, err := os.Create(bundlePath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	descData, err := json.MarshalIndent(desc, "", "    ")
	if err != nil {
		zw.Close()
		return err
	}
	if err := writeZipEntry(zw, "descriptor.json", descData); err != nil {
		zw.Close()
		return err
	}

	if err := addTreeToZip(zw, webDir, string(domain.Web)); err != nil {
		zw.Close()
		return err
	}
	if err := addTreeToZip(zw, infDir, string(domain.Inference)); err != nil {
		zw.Close()
		return err
	}

	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func addTreeToZip(zw *zip.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return writeZipEntry(zw, filepath.ToSlash(filepath.Join(prefix, rel)), data)
	})
}
