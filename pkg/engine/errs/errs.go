// Package errs holds the sentinel error values shared across the engine.
// Components wrap one of these with fmt.Errorf("...: %w", ...) at the call
// site; the HTTP surface unwraps with errors.Is to choose a status code.
package errs

import "errors"

var (
	// ErrInvalidUpload is returned when an uploaded bundle is missing a
	// required part (model name, web_app zip, inference_app zip) or the
	// model name fails sanitization.
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrBundleMalformed is returned when an uploaded zip or a release
	// archive cannot be read, or an uploaded entry's path escapes its
	// destination directory.
	ErrBundleMalformed = errors.New("bundle malformed")

	// ErrAlreadyDeploying is returned when a deploy is requested for a
	// (model, kind) pair that already holds the single-flight lock.
	ErrAlreadyDeploying = errors.New("deployment already in progress")

	// ErrPortExhausted is returned when the Port Allocator's scan range is
	// fully in use.
	ErrPortExhausted = errors.New("no free port in allocator range")

	// ErrSandboxFailure is returned when creating the sandbox directory,
	// extracting the half, writing the augmented descriptor, or creating
	// the venv fails. A failed dependency install is only logged.
	ErrSandboxFailure = errors.New("sandbox provisioning failed")

	// ErrSpawnFailure is returned when the instance process fails to
	// start. A process that exits after starting is not detected here.
	ErrSpawnFailure = errors.New("instance process failed to start")

	// ErrBackendUnavailable is returned when a request targets a model
	// with no running instance of the requested kind and no deploy could
	// be triggered.
	ErrBackendUnavailable = errors.New("no backend instance available")

	// ErrProxyUpstreamError names a forwarded request's upstream
	// connection failing after a backend was resolved. The proxy does not
	// return it: it demotes the instance and reports a Deploying outcome.
	ErrProxyUpstreamError = errors.New("upstream request failed")
)
