package httpapi

import (
	"syscall"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
)

// stopProcess signals an instance's process group to terminate. Instances
// are spawned with Setsid (spec.md §4.3 step 4), so the spawned PID is
// also its process group leader; signaling -PID reaches any children it
// forked too.
func stopProcess(inst *domain.Instance) {
	if inst.PID <= 0 {
		return
	}
	syscall.Kill(-inst.PID, syscall.SIGTERM)
}

// StopAll signals every known instance's process group to terminate. Called
// from the control plane's shutdown path so a server restart doesn't leave
// orphaned venv/flask processes behind (DESIGN.md cmd/controlplane / spec §9 teardown).
func (s *Server) StopAll() {
	for _, inst := range s.Registry.AllInstances() {
		stopProcess(inst)
	}
}
