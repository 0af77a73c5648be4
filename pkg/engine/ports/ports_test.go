package ports

import (
	"errors"
	"testing"

	"github.com/llmops-platform/controlplane/pkg/engine/errs"
)

func TestAllocateAndRelease(t *testing.T) {
	a := NewAllocator(20000, 20010)

	port, err := a.Allocate("instance-1")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if port < 20000 || port >= 20010 {
		t.Fatalf("Allocate() = %d, out of range", port)
	}

	got, ok := a.GetPort("instance-1")
	if !ok || got != port {
		t.Fatalf("GetPort() = (%d, %v), want (%d, true)", got, ok, port)
	}

	a.Release("instance-1")
	if _, ok := a.GetPort("instance-1"); ok {
		t.Fatalf("GetPort() after Release should not find an entry")
	}
}

func TestAllocateDistinctPorts(t *testing.T) {
	a := NewAllocator(20100, 20110)

	p1, err := a.Allocate("one")
	if err != nil {
		t.Fatalf("Allocate(one) error = %v", err)
	}
	p2, err := a.Allocate("two")
	if err != nil {
		t.Fatalf("Allocate(two) error = %v", err)
	}
	if p1 == p2 {
		t.Fatalf("Allocate() returned the same port %d twice", p1)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := NewAllocator(20200, 20201)

	if _, err := a.Allocate("one"); err != nil {
		t.Fatalf("Allocate(one) error = %v", err)
	}
	if _, err := a.Allocate("two"); !errors.Is(err, errs.ErrPortExhausted) {
		t.Fatalf("Allocate(two) error = %v, want ErrPortExhausted", err)
	}
}
