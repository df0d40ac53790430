package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKnownJobsAcceptOnce(t *testing.T) {
	table := NewKnownJobs(time.Minute)
	key := JobKey{Printer: "p", JobID: 7}

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.Accept(key) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("accepted %d times, want 1", got)
	}
	if !table.InFlight(key) {
		t.Error("key not in flight after accept")
	}
}

func TestKnownJobsSettledRetention(t *testing.T) {
	now := time.Unix(1000, 0)
	table := NewKnownJobs(time.Minute)
	table.now = func() time.Time { return now }
	key := JobKey{Printer: "p", JobID: 1}

	table.Accept(key)
	table.Release(key, JobStateResumed)

	if table.InFlight(key) {
		t.Error("released key still in flight")
	}
	if !table.Known(key) {
		t.Error("released key forgotten before retention")
	}
	if table.Accept(key) {
		t.Error("settled key accepted again within retention")
	}

	now = now.Add(2 * time.Minute)
	if !table.Accept(key) {
		t.Error("settled key not accepted after retention")
	}
}

func TestKnownJobsForget(t *testing.T) {
	table := NewKnownJobs(time.Hour)
	key := JobKey{Printer: "p", JobID: 2}

	table.Accept(key)
	table.Forget(key)
	if !table.InFlight(key) {
		t.Fatal("forget dropped an in-flight key")
	}

	table.Release(key, JobStateCanceled)
	table.Forget(key)
	if table.Known(key) {
		t.Error("settled key survived forget")
	}
	if !table.Accept(key) {
		t.Error("forgotten key not accepted")
	}
}

func TestKnownJobsZeroRetention(t *testing.T) {
	table := NewKnownJobs(0)
	key := JobKey{Printer: "p", JobID: 3}

	table.Accept(key)
	table.Release(key, JobStateErrored)
	if table.Known(key) {
		t.Error("key retained with zero retention")
	}
}

func TestKnownJobsSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	table := NewKnownJobs(time.Minute)
	table.now = func() time.Time { return now }

	stale := JobKey{Printer: "p", JobID: 1}
	settled := JobKey{Printer: "p", JobID: 2}
	table.Accept(stale)
	table.Accept(settled)
	table.Release(settled, JobStateResumed)

	now = now.Add(30 * time.Second)
	fresh := JobKey{Printer: "p", JobID: 3}
	table.Accept(fresh)

	now = now.Add(45 * time.Second)
	abandoned := table.Sweep(time.Minute)

	if len(abandoned) != 1 || abandoned[0] != stale {
		t.Errorf("abandoned = %v, want [%s]", abandoned, stale)
	}
	if table.Known(settled) {
		t.Error("expired settled key not swept")
	}
	if !table.InFlight(fresh) {
		t.Error("fresh in-flight key swept")
	}
}

func TestKnownJobsSnapshot(t *testing.T) {
	now := time.Unix(1000, 0)
	table := NewKnownJobs(time.Minute)
	table.now = func() time.Time { return now }

	a := JobKey{Printer: "p", JobID: 1}
	b := JobKey{Printer: "p", JobID: 2}
	table.Accept(a)
	now = now.Add(time.Second)
	table.Accept(b)
	table.SetState(b, JobStatePaused, "user-1")

	snap := table.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if snap[0].Key != a || snap[1].Key != b {
		t.Errorf("snapshot order = %v, %v", snap[0].Key, snap[1].Key)
	}
	if snap[1].State != JobStatePaused || snap[1].UserID != "user-1" {
		t.Errorf("snapshot entry = %+v", snap[1])
	}
}
