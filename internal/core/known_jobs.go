package core

import (
	"sort"
	"sync"
	"time"
)

type knownEntry struct {
	mu         sync.Mutex
	state      JobState
	userID     string
	acceptedAt time.Time
	settledAt  time.Time
	settled    bool
	removed    bool
}

// KnownJob is a read-only view of a table entry.
type KnownJob struct {
	Key        JobKey
	State      JobState
	UserID     string
	AcceptedAt time.Time
	Settled    bool
}

// KnownJobs is the deduplication table for spooler jobs. Each key has
// its own lock, so jobs on different printers never contend. An entry
// is in flight from Accept until Release; after Release it stays as a
// settled marker until the spooler reports the job gone (Forget) or
// the retention window lapses, so a late sighting from the second
// observation channel cannot start a second billing run.
type KnownJobs struct {
	entries   sync.Map
	retention time.Duration
	now       func() time.Time
}

func NewKnownJobs(retention time.Duration) *KnownJobs {
	return &KnownJobs{
		retention: retention,
		now:       time.Now,
	}
}

// Accept records the key as in flight. It returns false when the key is
// already known, which is the only place sightings are deduplicated.
func (t *KnownJobs) Accept(key JobKey) bool {
	for {
		fresh := &knownEntry{state: JobStateAccepted, acceptedAt: t.now()}
		v, loaded := t.entries.LoadOrStore(key, fresh)
		if !loaded {
			return true
		}

		e := v.(*knownEntry)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.settled && t.expired(e) {
			e.state = JobStateAccepted
			e.userID = ""
			e.acceptedAt = t.now()
			e.settled = false
			e.settledAt = time.Time{}
			e.mu.Unlock()
			return true
		}
		e.mu.Unlock()
		return false
	}
}

func (t *KnownJobs) expired(e *knownEntry) bool {
	return t.now().Sub(e.settledAt) >= t.retention
}

// SetState records the job's current state for observers.
func (t *KnownJobs) SetState(key JobKey, state JobState, userID string) {
	v, ok := t.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*knownEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.settled {
		return
	}
	e.state = state
	if userID != "" {
		e.userID = userID
	}
}

// Release ends the in-flight period of a key. It is called exactly once
// per accepted job, on every exit path.
func (t *KnownJobs) Release(key JobKey, final JobState) {
	v, ok := t.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*knownEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	e.state = final
	e.settled = true
	e.settledAt = t.now()
	if t.retention <= 0 {
		t.removeLocked(key, e)
	}
}

// Forget drops a settled key once the spooler no longer lists the job.
// In-flight keys are left for their pipeline to release.
func (t *KnownJobs) Forget(key JobKey) {
	v, ok := t.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*knownEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled && !e.removed {
		t.removeLocked(key, e)
	}
}

func (t *KnownJobs) removeLocked(key JobKey, e *knownEntry) {
	e.removed = true
	t.entries.CompareAndDelete(key, e)
}

// InFlight reports whether the key is accepted and not yet released.
func (t *KnownJobs) InFlight(key JobKey) bool {
	v, ok := t.entries.Load(key)
	if !ok {
		return false
	}
	e := v.(*knownEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.removed && !e.settled
}

// Known reports whether the key is in flight or settled.
func (t *KnownJobs) Known(key JobKey) bool {
	v, ok := t.entries.Load(key)
	if !ok {
		return false
	}
	e := v.(*knownEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.removed
}

// Sweep removes settled entries past retention and in-flight entries
// older than staleAfter. The stale in-flight keys are returned so the
// caller can log them as abandoned.
func (t *KnownJobs) Sweep(staleAfter time.Duration) []JobKey {
	now := t.now()
	var abandoned []JobKey
	t.entries.Range(func(k, v any) bool {
		key := k.(JobKey)
		e := v.(*knownEntry)
		e.mu.Lock()
		switch {
		case e.removed:
		case e.settled && t.expired(e):
			t.removeLocked(key, e)
		case !e.settled && staleAfter > 0 && now.Sub(e.acceptedAt) >= staleAfter:
			t.removeLocked(key, e)
			abandoned = append(abandoned, key)
		}
		e.mu.Unlock()
		return true
	})
	return abandoned
}

// Snapshot lists the in-flight and settled entries, oldest first.
func (t *KnownJobs) Snapshot() []KnownJob {
	var out []KnownJob
	t.entries.Range(func(k, v any) bool {
		e := v.(*knownEntry)
		e.mu.Lock()
		if !e.removed {
			out = append(out, KnownJob{
				Key:        k.(JobKey),
				State:      e.state,
				UserID:     e.userID,
				AcceptedAt: e.acceptedAt,
				Settled:    e.settled,
			})
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].AcceptedAt.Before(out[j].AcceptedAt)
	})
	return out
}
