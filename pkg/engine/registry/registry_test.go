package registry

import (
	"sync"
	"testing"

	"github.com/llmops-platform/controlplane/pkg/engine/domain"
)

func TestAppendAndPickRunning(t *testing.T) {
	r := New()
	r.AppendInstance("ocr", domain.Inference, &domain.Instance{ID: "a", Status: domain.StatusInitializing})

	if _, ok := r.PickRunning("ocr", domain.Inference); ok {
		t.Fatal("PickRunning() found a running instance before any became running")
	}

	r.UpdateStatus("ocr", domain.Inference, "a", domain.StatusRunning)

	inst, ok := r.PickRunning("ocr", domain.Inference)
	if !ok || inst.ID != "a" {
		t.Fatalf("PickRunning() = (%v, %v), want instance a", inst, ok)
	}
}

func TestPickRunningUniformDistribution(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		r.AppendInstance("ocr", domain.Inference, &domain.Instance{ID: id, Status: domain.StatusRunning})
	}

	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		inst, ok := r.PickRunning("ocr", domain.Inference)
		if !ok {
			t.Fatal("PickRunning() found nothing")
		}
		counts[inst.ID]++
	}

	for id, c := range counts {
		if c < 700 || c > 1300 {
			t.Errorf("instance %s got %d/3000 picks, want roughly 1000 (+/-30%%)", id, c)
		}
	}
}

func TestFind(t *testing.T) {
	r := New()
	r.AppendInstance("ocr", domain.Web, &domain.Instance{ID: "w1"})
	r.AppendInstance("ocr", domain.Inference, &domain.Instance{ID: "i1"})

	e, _ := r.Get("ocr")

	inst, kind, ok := e.Find("i1")
	if !ok || kind != domain.Inference || inst.ID != "i1" {
		t.Errorf("Find(i1) = (%v, %v, %v), want (i1, inference, true)", inst, kind, ok)
	}
	if _, _, ok := e.Find("missing"); ok {
		t.Errorf("Find(missing) = found, want not found")
	}
}

func TestConcurrentAppend(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.AppendInstance("ocr", domain.Inference, &domain.Instance{ID: "x", Status: domain.StatusRunning})
		}(i)
	}
	wg.Wait()

	e, _ := r.Get("ocr")
	if len(e.InferenceInstances) != 50 {
		t.Errorf("len(InferenceInstances) = %d, want 50", len(e.InferenceInstances))
	}
}

func TestSnapshotDeployingReflectsNoRunningInstance(t *testing.T) {
	r := New()
	e := r.GetOrCreate("ocr")

	report := e.Snapshot("ocr", false, true)
	if !report.Deploying {
		t.Error("Snapshot() Deploying = false, want true when inference is deploying and none running")
	}

	r.AppendInstance("ocr", domain.Inference, &domain.Instance{ID: "i1", Status: domain.StatusRunning})
	report = e.Snapshot("ocr", false, true)
	if report.Deploying {
		t.Error("Snapshot() Deploying = true, want false once an inference instance is running")
	}
}
