package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/spooler"
)

// SightingHandler consumes the watcher's output. Both observation
// channels call JobSighted concurrently and may report the same job.
type SightingHandler interface {
	JobSighted(ctx context.Context, s Sighting)
	JobVanished(ctx context.Context, key JobKey)
}

type WatcherConfig struct {
	PollInterval time.Duration
	// Printers restricts monitoring to the named queues; empty means
	// every queue the spooler lists.
	Printers []string
}

type printerWatch struct {
	name string

	mu sync.Mutex
	// preexisting holds jobs already queued when monitoring began.
	preexisting map[spooler.JobID]bool
	// polled is the job list from the previous poll.
	polled map[spooler.JobID]bool
	// notified holds jobs already reported by the notification channel
	// and when they were reported.
	notified map[spooler.JobID]time.Time
}

// Watcher observes spooler queues through change notifications and a
// polling fallback and reports each new job once per channel.
type Watcher struct {
	spooler spooler.Spooler
	handler SightingHandler
	config  WatcherConfig
	log     *zap.Logger

	printers []*printerWatch
	wg       sync.WaitGroup
}

func NewWatcher(sp spooler.Spooler, handler SightingHandler, cfg WatcherConfig, log *zap.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 300 * time.Millisecond
	}
	return &Watcher{
		spooler: sp,
		handler: handler,
		config:  cfg,
		log:     log.Named("watcher"),
	}
}

// Start subscribes to every printer, then seeds the pre-existing job
// set, then starts delivering. Subscribing first leaves no window in
// which a short-lived job could come and go unseen; notifications that
// arrive while seeding are buffered and filtered against the seed.
func (w *Watcher) Start(ctx context.Context) error {
	names := w.config.Printers
	if len(names) == 0 {
		var err error
		names, err = w.spooler.Printers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list printers: %w", err)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no printers to monitor")
	}

	feeds := make(map[string]<-chan spooler.Notification, len(names))
	for _, name := range names {
		ch, err := w.spooler.Subscribe(ctx, name)
		if err != nil {
			w.log.Warn("change notifications unavailable, relying on polling",
				zap.String("printer", name), zap.Error(err))
			continue
		}
		feeds[name] = ch
	}

	for _, name := range names {
		pw := &printerWatch{
			name:        name,
			preexisting: make(map[spooler.JobID]bool),
			polled:      make(map[spooler.JobID]bool),
			notified:    make(map[spooler.JobID]time.Time),
		}
		ids, err := w.spooler.Jobs(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to seed printer %s: %w", name, err)
		}
		for _, id := range ids {
			pw.preexisting[id] = true
			pw.polled[id] = true
		}
		w.printers = append(w.printers, pw)
		w.log.Info("monitoring printer", zap.String("printer", name), zap.Int("preexisting_jobs", len(ids)))
	}

	for _, pw := range w.printers {
		if ch, ok := feeds[pw.name]; ok {
			w.wg.Add(1)
			go w.eventLoop(ctx, pw, ch)
		}
	}

	w.wg.Add(1)
	go w.pollLoop(ctx)

	return nil
}

// Wait blocks until both channels have stopped after ctx is done.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) eventLoop(ctx context.Context, pw *printerWatch, ch <-chan spooler.Notification) {
	defer w.wg.Done()
	for n := range ch {
		if w.acceptNotification(pw, n) {
			w.handler.JobSighted(ctx, Sighting{
				Key:    JobKey{Printer: pw.name, JobID: n.JobID},
				Source: SourceEvent,
			})
		}
	}
}

func (w *Watcher) acceptNotification(pw *printerWatch, n spooler.Notification) bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if _, ok := pw.notified[n.JobID]; ok {
		return false
	}
	// A change to a job that was queued before monitoring started is
	// not a new job. An add for a seeded id means it was created
	// between subscribing and seeding.
	if pw.preexisting[n.JobID] && !n.Added {
		return false
	}
	pw.notified[n.JobID] = time.Now()
	return true
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pw := range w.printers {
				w.pollPrinter(ctx, pw)
			}
		}
	}
}

// pollPrinter diffs the current job list against the previous poll.
func (w *Watcher) pollPrinter(ctx context.Context, pw *printerWatch) {
	listedAt := time.Now()
	ids, err := w.spooler.Jobs(ctx, pw.name)
	if err != nil {
		w.log.Debug("poll failed", zap.String("printer", pw.name), zap.Error(err))
		return
	}

	current := make(map[spooler.JobID]bool, len(ids))
	for _, id := range ids {
		current[id] = true
	}

	var added, vanished []spooler.JobID
	pw.mu.Lock()
	for _, id := range ids {
		if !pw.polled[id] && !pw.preexisting[id] {
			added = append(added, id)
		}
	}
	for id := range pw.polled {
		if !current[id] {
			vanished = append(vanished, id)
			delete(pw.preexisting, id)
			delete(pw.notified, id)
		}
	}
	// A job seen only by notifications that was gone before this
	// listing started will never show up in polled to be pruned above.
	for id, at := range pw.notified {
		if !current[id] && !pw.polled[id] && at.Before(listedAt) {
			delete(pw.notified, id)
		}
	}
	pw.polled = current
	pw.mu.Unlock()

	for _, id := range added {
		w.handler.JobSighted(ctx, Sighting{
			Key:    JobKey{Printer: pw.name, JobID: id},
			Source: SourcePoll,
		})
	}
	for _, id := range vanished {
		w.handler.JobVanished(ctx, JobKey{Printer: pw.name, JobID: id})
	}
}
