package deploy

import (
	"context"
	"os/exec"
	"syscall"

	"github.com/llmops-platform/controlplane/pkg/logging"
)

// Spawner launches an instance's application process. Abstracted behind an
// interface so deployer tests can substitute a fake without touching the
// real process table.
type Spawner interface {
	Spawn(ctx context.Context, spec ProcessSpec, ilog *logging.InstanceLogger) (pid int, wait func() error, err error)
}

// ExecSpawner launches processes via os/exec, detached from the parent's
// controlling session (syscall.SysProcAttr{Setsid: true}), the Go
// equivalent of original_source/server.py's `start_new_session=True`.
// stdout/stderr are captured into the instance log for later diagnostic,
// per spec.md §4.3 step 4.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(ctx context.Context, spec ProcessSpec, ilog *logging.InstanceLogger) (int, func() error, error) {
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if ilog != nil {
		cmd.Stdout = instanceLogWriter{ilog}
		cmd.Stderr = instanceLogWriter{ilog}
	}

	if err := cmd.Start(); err != nil {
		return 0, nil, err
	}

	return cmd.Process.Pid, cmd.Wait, nil
}

// instanceLogWriter adapts InstanceLogger to io.Writer so a child's
// stdout/stderr pipes straight into the per-instance log.
type instanceLogWriter struct {
	log *logging.InstanceLogger
}

func (w instanceLogWriter) Write(p []byte) (int, error) {
	w.log.Printf("%s", string(p))
	return len(p), nil
}
