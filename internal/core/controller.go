package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/spooler"
)

// JobController issues hold, resume and cancel commands for a job and
// forwards outcomes to the notification surface. Resume and cancel are
// best effort: a failure is logged and returned, but it never reopens a
// billing decision.
type JobController struct {
	spooler  spooler.Spooler
	notifier Notifier
	log      *zap.Logger
}

func NewJobController(sp spooler.Spooler, notifier Notifier, log *zap.Logger) *JobController {
	return &JobController{
		spooler:  sp,
		notifier: notifier,
		log:      log.Named("controller"),
	}
}

// Hold pauses the job in the spooler.
func (c *JobController) Hold(ctx context.Context, key JobKey) error {
	if err := c.spooler.Pause(ctx, key.Printer, key.JobID); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPauseFailed, key, err)
	}
	return nil
}

func (c *JobController) Resume(ctx context.Context, key JobKey) error {
	if err := c.spooler.Resume(ctx, key.Printer, key.JobID); err != nil {
		c.log.Error("resume failed", zap.Stringer("job", key), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrResumeFailed, key, err)
	}
	return nil
}

func (c *JobController) Cancel(ctx context.Context, key JobKey, reason string) error {
	if err := c.spooler.Cancel(ctx, key.Printer, key.JobID); err != nil {
		c.log.Error("cancel failed", zap.Stringer("job", key), zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrCancelFailed, key, err)
	}
	c.log.Info("job canceled", zap.Stringer("job", key), zap.String("reason", reason))
	return nil
}

func (c *JobController) NotifyBilled(ctx context.Context, ev JobBilled) {
	if c.notifier != nil {
		c.notifier.JobBilled(ctx, ev)
	}
}

func (c *JobController) NotifyRejected(ctx context.Context, ev JobRejected) {
	if c.notifier != nil {
		c.notifier.JobRejected(ctx, ev)
	}
}
