package spooler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Disposition is what finally happened to a job held by the memory
// spooler.
type Disposition string

const (
	DispositionQueued   Disposition = "queued"
	DispositionPaused   Disposition = "paused"
	DispositionResumed  Disposition = "resumed"
	DispositionCanceled Disposition = "canceled"
	DispositionFinished Disposition = "finished"
)

type memJob struct {
	info JobInfo
}

type memKey struct {
	printer string
	id      JobID
}

// Memory is an in-process Spooler. Jobs stay in the queue until they
// are canceled or Finish is called, which lets callers stage the races
// the monitor has to survive: jobs vanishing before pause, duplicate
// notifications, and notifications that never arrive.
type Memory struct {
	mu       sync.Mutex
	printers map[string]bool
	jobs     map[memKey]*memJob
	history  map[memKey]Disposition
	subs     map[string][]chan Notification
	nextID   JobID

	pauses  map[memKey]int
	resumes map[memKey]int
	cancels map[memKey]int

	// PauseHook, when set, runs before a pause is applied; a non-nil
	// return is reported to the caller instead.
	PauseHook func(printer string, id JobID) error
}

func NewMemory(printers ...string) *Memory {
	m := &Memory{
		printers: make(map[string]bool),
		jobs:     make(map[memKey]*memJob),
		history:  make(map[memKey]Disposition),
		subs:     make(map[string][]chan Notification),
		pauses:   make(map[memKey]int),
		resumes:  make(map[memKey]int),
		cancels:  make(map[memKey]int),
	}
	for _, p := range printers {
		m.printers[p] = true
	}
	return m
}

// AddPrinter registers a printer queue.
func (m *Memory) AddPrinter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.printers[name] = true
}

// Submit queues a job and notifies subscribers that it was added.
func (m *Memory) Submit(printer string, pages int, dm *DevMode) JobID {
	return m.submit(printer, pages, dm, true)
}

// SubmitSilently queues a job without notifying subscribers, so only
// the polling path can discover it.
func (m *Memory) SubmitSilently(printer string, pages int, dm *DevMode) JobID {
	return m.submit(printer, pages, dm, false)
}

func (m *Memory) submit(printer string, pages int, dm *DevMode, notify bool) JobID {
	m.mu.Lock()
	m.printers[printer] = true
	m.nextID++
	id := m.nextID
	var devMode *DevMode
	if dm != nil {
		copied := *dm
		devMode = &copied
	}
	m.jobs[memKey{printer, id}] = &memJob{
		info: JobInfo{
			ID:         id,
			Printer:    printer,
			Document:   "document",
			TotalPages: pages,
			DevMode:    devMode,
			Submitted:  time.Now(),
		},
	}
	m.history[memKey{printer, id}] = DispositionQueued
	if notify {
		m.deliverLocked(Notification{Printer: printer, JobID: id, Added: true})
	}
	m.mu.Unlock()
	return id
}

// SetSpooling toggles the spooling flag and page count of a queued job.
func (m *Memory) SetSpooling(printer string, id JobID, spooling bool, pages int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[memKey{printer, id}]; ok {
		j.info.Spooling = spooling
		j.info.TotalPages = pages
	}
}

// Notify sends an arbitrary change notification to subscribers.
func (m *Memory) Notify(printer string, id JobID, added bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverLocked(Notification{Printer: printer, JobID: id, Added: added})
}

// Finish removes a job from the queue as if it had printed.
func (m *Memory) Finish(printer string, id JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{printer, id}
	if _, ok := m.jobs[key]; ok {
		delete(m.jobs, key)
		if m.history[key] != DispositionCanceled {
			m.history[key] = DispositionFinished
		}
	}
}

// Disposition returns the last state the job was driven into.
func (m *Memory) Disposition(printer string, id JobID) Disposition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[memKey{printer, id}]
}

// PauseCount returns how many successful pauses were applied to a job.
func (m *Memory) PauseCount(printer string, id JobID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauses[memKey{printer, id}]
}

func (m *Memory) ResumeCount(printer string, id JobID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes[memKey{printer, id}]
}

func (m *Memory) CancelCount(printer string, id JobID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels[memKey{printer, id}]
}

// deliverLocked must be called with m.mu held so a subscription cannot
// be closed mid-send.
func (m *Memory) deliverLocked(n Notification) {
	for _, ch := range m.subs[n.Printer] {
		select {
		case ch <- n:
		default:
		}
	}
}

func (m *Memory) Printers(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.printers))
	for name := range m.printers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Jobs(ctx context.Context, printer string) ([]JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.printers[printer] {
		return nil, ErrPrinterNotFound
	}
	var ids []JobID
	for key := range m.jobs {
		if key.printer == printer {
			ids = append(ids, key.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) Job(ctx context.Context, printer string, id JobID) (*JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[memKey{printer, id}]
	if !ok {
		return nil, ErrJobNotFound
	}
	info := j.info
	if j.info.DevMode != nil {
		dm := *j.info.DevMode
		info.DevMode = &dm
	}
	return &info, nil
}

func (m *Memory) Pause(ctx context.Context, printer string, id JobID) error {
	if hook := m.PauseHook; hook != nil {
		if err := hook(printer, id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{printer, id}
	j, ok := m.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	j.info.Paused = true
	m.history[key] = DispositionPaused
	m.pauses[key]++
	return nil
}

func (m *Memory) Resume(ctx context.Context, printer string, id JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{printer, id}
	j, ok := m.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	j.info.Paused = false
	m.history[key] = DispositionResumed
	m.resumes[key]++
	return nil
}

func (m *Memory) Cancel(ctx context.Context, printer string, id JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{printer, id}
	if _, ok := m.jobs[key]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, key)
	m.history[key] = DispositionCanceled
	m.cancels[key]++
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, printer string) (<-chan Notification, error) {
	ch := make(chan Notification, 256)

	m.mu.Lock()
	m.printers[printer] = true
	m.subs[printer] = append(m.subs[printer], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		subs := m.subs[printer]
		for i, c := range subs {
			if c == ch {
				m.subs[printer] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}
