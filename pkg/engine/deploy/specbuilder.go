// ProcessSpecBuilder is the Go analogue of the teacher's
// pkg/dmrlet/inference.SpecBuilder (which builds an OCI ContainerSpec):
// here it builds an argv/env/cwd triple for a sandboxed Python interpreter
// instead, since the spec's sandboxes are host directories, not
// containers (SPEC_FULL §4.3).
package deploy

import (
	"fmt"
	"os"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
)

// ProcessSpec is everything needed to exec.Command the instance's app
// process.
type ProcessSpec struct {
	Argv []string
	Env  []string
	Dir  string
}

// ProcessSpecBuilder builds a ProcessSpec for one instance launch.
type ProcessSpecBuilder struct{}

// Build constructs the argv/env/cwd for launching appDir's app entry under
// interpreter, bound to port. Matches original_source/server.py's
// `python -m flask run --host=0.0.0.0 --port <port>` invocation exactly,
// with the venv interpreter substituted for the bare "python" the original
// uses. Env starts from the parent process's own environment
// (original_source/server.py:246 `env_vars = os.environ.copy()`) so the
// venv interpreter still finds PATH, HOME, LANG, PYTHONPATH, etc.; the
// instance-specific vars are appended on top, per spec.md §4.3 step 4.
func (ProcessSpecBuilder) Build(kind domain.Kind, modelName, instanceID, interpreter, appDir, appEntry string, port int, inferenceAPIURL string) ProcessSpec {
	env := append(os.Environ(),
		fmt.Sprintf("PORT=%d", port),
		fmt.Sprintf("FLASK_RUN_PORT=%d", port),
		fmt.Sprintf("MODEL_NAME=%s", modelName),
		fmt.Sprintf("INSTANCE_ID=%s", instanceID),
		fmt.Sprintf("APP_DIR=%s", appDir),
		fmt.Sprintf("FLASK_APP=%s", appEntry),
	)
	if kind == domain.Web && inferenceAPIURL != "" {
		env = append(env, fmt.Sprintf("INFERENCE_API_URL=%s", inferenceAPIURL))
	}

	return ProcessSpec{
		Argv: []string{interpreter, "-m", "flask", "run", "--host=0.0.0.0", "--port", fmt.Sprintf("%d", port)},
		Env:  env,
		Dir:  appDir,
	}
}
