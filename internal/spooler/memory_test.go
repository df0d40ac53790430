package spooler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryJobLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Office")

	id := m.Submit("Office", 3, &DevMode{Fields: FieldColor, Color: ColorColor})

	ids, err := m.Jobs(ctx, "Office")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("jobs = %v, want [%d]", ids, id)
	}

	if err := m.Pause(ctx, "Office", id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	info, err := m.Job(ctx, "Office", id)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if !info.Paused || info.TotalPages != 3 || !info.DevMode.HasField(FieldColor) {
		t.Fatalf("unexpected job info %+v", info)
	}

	if err := m.Resume(ctx, "Office", id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := m.Disposition("Office", id); got != DispositionResumed {
		t.Fatalf("disposition = %s, want resumed", got)
	}
	if m.PauseCount("Office", id) != 1 || m.ResumeCount("Office", id) != 1 {
		t.Fatalf("pauses/resumes = %d/%d, want 1/1", m.PauseCount("Office", id), m.ResumeCount("Office", id))
	}

	m.Finish("Office", id)
	if err := m.Pause(ctx, "Office", id); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("pause after finish = %v, want ErrJobNotFound", err)
	}
	if got := m.Disposition("Office", id); got != DispositionFinished {
		t.Fatalf("disposition = %s, want finished", got)
	}
}

func TestMemoryCancelRemovesJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Office")
	id := m.Submit("Office", 1, nil)

	if err := m.Cancel(ctx, "Office", id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := m.Job(ctx, "Office", id); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("job after cancel = %v, want ErrJobNotFound", err)
	}
	if m.CancelCount("Office", id) != 1 {
		t.Fatalf("cancel count = %d, want 1", m.CancelCount("Office", id))
	}
}

func TestMemorySubscribeDeliversAdds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory("Office")

	ch, err := m.Subscribe(ctx, "Office")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	id := m.Submit("Office", 2, nil)
	m.SubmitSilently("Office", 2, nil)

	select {
	case n := <-ch:
		if n.JobID != id || !n.Added || n.Printer != "Office" {
			t.Fatalf("notification = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	select {
	case n := <-ch:
		t.Fatalf("silent submit produced notification %+v", n)
	default:
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryJobsUnknownPrinter(t *testing.T) {
	m := NewMemory()
	if _, err := m.Jobs(context.Background(), "nope"); !errors.Is(err, ErrPrinterNotFound) {
		t.Fatalf("err = %v, want ErrPrinterNotFound", err)
	}

	m.AddPrinter("nope")
	ids, err := m.Jobs(context.Background(), "nope")
	if err != nil || len(ids) != 0 {
		t.Fatalf("jobs after AddPrinter = %v, %v", ids, err)
	}
}
