// Package ports implements the control plane's port allocator, grounded on
// the teacher's pkg/dmrlet/network.PortAllocator: a bind-then-release probe
// over a bounded scan range, guarded by a single mutex.
package ports

import (
	"fmt"
	"net"
	"sync"

	"github.com/llmops-platform/controlplane/pkg/engine/errs"
)

// Allocator hands out TCP ports for newly spawned instances. It tracks which
// ports it has handed out (by instance ID) and probes the OS for actual
// availability before committing to one, since the spawned process — not
// the allocator — eventually binds the port.
type Allocator struct {
	mu      sync.Mutex
	base    int
	max     int
	used    map[int]string // port -> instance ID
	byOwner map[string]int // instance ID -> port
}

// NewAllocator returns an Allocator scanning [base, max).
func NewAllocator(base, max int) *Allocator {
	return &Allocator{
		base:    base,
		max:     max,
		used:    make(map[int]string),
		byOwner: make(map[string]int),
	}
}

// Allocate reserves the first free, actually-bindable port in range for
// ownerID (typically an instance ID), skipping ports this allocator already
// considers in use.
func (a *Allocator) Allocate(ownerID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.base; port < a.max; port++ {
		if _, taken := a.used[port]; taken {
			continue
		}
		if !checkPortAvailable(port) {
			continue
		}
		a.used[port] = ownerID
		a.byOwner[ownerID] = port
		return port, nil
	}

	return 0, fmt.Errorf("scanning [%d, %d): %w", a.base, a.max, errs.ErrPortExhausted)
}

// Release frees the port held by ownerID, if any.
func (a *Allocator) Release(ownerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, ok := a.byOwner[ownerID]
	if !ok {
		return
	}
	delete(a.byOwner, ownerID)
	delete(a.used, port)
}

// GetPort returns the port currently held by ownerID.
func (a *Allocator) GetPort(ownerID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.byOwner[ownerID]
	return port, ok
}

// checkPortAvailable probes a port by binding to it and immediately
// releasing it — the same transient-listen trick as the original Python
// implementation's `socket.socket(...).bind(("", 0))`, except here we pin
// the specific port under consideration rather than asking the OS to
// choose one, since the allocator needs a reproducible port to hand to the
// spawned process.
func checkPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
