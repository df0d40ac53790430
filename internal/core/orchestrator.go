package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kioskctl/printwatch/internal/spooler"
)

type OrchestratorConfig struct {
	StepTimeout   time.Duration
	StaleTimeout  time.Duration
	SweepInterval time.Duration
}

// Deps are the collaborators the orchestrator sequences for every job.
type Deps struct {
	Table      *KnownJobs
	Sessions   SessionSource
	Inspector  *Inspector
	Pricing    *PricingResolver
	Ledger     *BudgetLedger
	Controller *JobController
	Audit      AuditSink
}

// Orchestrator owns the per-job state machine. Each accepted sighting
// runs its own pipeline: hold, inspect, price, deduct, then resume or
// cancel. Jobs never wait on one another except through the ledger's
// conditional update for the same user.
type Orchestrator struct {
	deps   Deps
	config OrchestratorConfig
	log    *zap.Logger
	now    func() time.Time

	// mu orders acceptance against Close so no pipeline starts once
	// shutdown has begun.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewOrchestrator(deps Deps, cfg OrchestratorConfig, log *zap.Logger) *Orchestrator {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &Orchestrator{
		deps:   deps,
		config: cfg,
		log:    log.Named("orchestrator"),
		now:    time.Now,
	}
}

// Table exposes the known-jobs table for status reporting.
func (o *Orchestrator) Table() *KnownJobs {
	return o.deps.Table
}

// JobSighted is the single acceptance point for both observation
// channels. A sighting of an already-known key is dropped, as is any
// sighting after Close.
func (o *Orchestrator) JobSighted(ctx context.Context, s Sighting) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.log.Warn("sighting after shutdown left untouched", zap.Stringer("job", s.Key), zap.String("source", s.Source))
		return
	}
	if !o.deps.Table.Accept(s.Key) {
		o.log.Debug("duplicate sighting dropped", zap.Stringer("job", s.Key), zap.String("source", s.Source))
		return
	}

	job := &PrintJob{
		Key:       s.Key,
		State:     JobStateAccepted,
		SightedAt: o.now(),
		Source:    s.Source,
	}
	o.log.Debug("job accepted", zap.Stringer("job", s.Key), zap.String("source", s.Source))

	o.wg.Add(1)
	go o.process(ctx, job)
}

// JobVanished lets a settled key go once the spooler no longer lists it.
func (o *Orchestrator) JobVanished(ctx context.Context, key JobKey) {
	o.deps.Table.Forget(key)
}

// Run sweeps stale table entries until ctx is done, then closes the
// orchestrator to new sightings and waits for in-flight pipelines to
// reach a terminal state.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.Close()
			o.wg.Wait()
			return
		case <-ticker.C:
			for _, key := range o.deps.Table.Sweep(o.config.StaleTimeout) {
				o.log.Warn("abandoned in-flight job entry", zap.Stringer("job", key))
			}
		}
	}
}

// Close stops accepting sightings. Jobs already accepted still run to a
// terminal state.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

// Wait blocks until every accepted job has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type pipeline struct {
	job          *PrintJob
	held         bool
	reason       string
	furthest     JobState
	balanceAfter *decimal.Decimal
}

func (o *Orchestrator) transition(p *pipeline, state JobState) {
	p.job.State = state
	if !state.Terminal() {
		p.furthest = state
	}
	o.deps.Table.SetState(p.job.Key, state, p.job.UserID)
}

func (o *Orchestrator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.config.StepTimeout)
}

// process drives one job to a terminal state. Once accepted a job is
// not cancelable by the caller, so the pipeline runs on a context
// detached from ctx's cancellation; every step is bounded by the step
// timeout instead.
func (o *Orchestrator) process(parent context.Context, job *PrintJob) {
	defer o.wg.Done()

	ctx := context.WithoutCancel(parent)
	p := &pipeline{job: job, furthest: JobStateAccepted}

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, p, fmt.Errorf("panic: %v", r))
		}
		o.finish(ctx, p)
	}()

	session, ok := o.deps.Sessions.Active()
	if !ok {
		p.reason = ErrNoActiveSession.Error()
		stepCtx, cancel := o.step(ctx)
		o.deps.Controller.Cancel(stepCtx, job.Key, p.reason)
		cancel()
		o.transition(p, JobStateCanceled)
		return
	}
	job.UserID = session.UserID
	job.OrgID = session.OrgID

	stepCtx, cancel := o.step(ctx)
	err := o.deps.Controller.Hold(stepCtx, job.Key)
	cancel()
	if err != nil {
		if errors.Is(err, spooler.ErrJobNotFound) {
			// Finished before it could be held, e.g. a virtual printer.
			// Nothing to bill and nothing left to cancel.
			p.reason = err.Error()
			o.transition(p, JobStateErrored)
			return
		}
		p.held = true
		o.fail(ctx, p, err)
		return
	}
	p.held = true
	o.transition(p, JobStatePaused)

	inspectCtx, cancel := context.WithTimeout(ctx, o.config.StepTimeout+o.inspectBudget())
	inspection, err := o.deps.Inspector.Inspect(inspectCtx, job.Key)
	cancel()
	if err != nil {
		o.fail(ctx, p, err)
		return
	}
	job.PageCount = inspection.Pages
	job.Color = inspection.Color
	o.transition(p, JobStateInspected)

	stepCtx, cancel = o.step(ctx)
	rates, err := o.deps.Pricing.GetRates(stepCtx, job.OrgID)
	cancel()
	if err != nil {
		o.fail(ctx, p, err)
		return
	}
	cost, rate := Cost(job.PageCount, job.Color, *rates)
	job.Cost = &cost
	job.Rate = rate
	job.PricedAs = PricedAs(job.Color)
	o.transition(p, JobStatePriced)

	stepCtx, cancel = o.step(ctx)
	result, err := o.deps.Ledger.TryDeduct(stepCtx, job.UserID, cost)
	cancel()
	if err != nil {
		o.fail(ctx, p, err)
		return
	}

	balance := result.Balance
	p.balanceAfter = &balance

	if result.Outcome == DeductInsufficient {
		p.reason = fmt.Sprintf("%s: short by %s", ErrInsufficientBalance, result.Shortfall)
		stepCtx, cancel = o.step(ctx)
		o.deps.Controller.Cancel(stepCtx, job.Key, p.reason)
		cancel()
		p.held = false
		o.transition(p, JobStateCanceled)
		o.deps.Controller.NotifyRejected(ctx, JobRejected{
			Printer:   job.Key.Printer,
			JobID:     uint32(job.Key.JobID),
			UserID:    job.UserID,
			Pages:     job.PageCount,
			Cost:      cost,
			Balance:   result.Balance,
			Shortfall: result.Shortfall,
		})
		return
	}

	// The deduction is committed: the job is billed whatever the spooler
	// does next. A failed resume is a refund matter, never a retry.
	p.held = false
	o.transition(p, JobStateResumed)
	stepCtx, cancel = o.step(ctx)
	if err := o.deps.Controller.Resume(stepCtx, job.Key); err != nil {
		p.reason = err.Error()
	}
	cancel()
	o.deps.Controller.NotifyBilled(ctx, JobBilled{
		Printer:  job.Key.Printer,
		JobID:    uint32(job.Key.JobID),
		UserID:   job.UserID,
		Pages:    job.PageCount,
		Color:    job.Color.String(),
		PricedAs: job.PricedAs.String(),
		Cost:     cost,
		RateUsed: rate,
		Balance:  result.Balance,
	})
}

func (o *Orchestrator) inspectBudget() time.Duration {
	i := o.deps.Inspector
	return time.Duration(i.attempts) * i.settle
}

// fail moves the job to Errored and cancels it if it is still held, so
// a paused job is never abandoned.
func (o *Orchestrator) fail(ctx context.Context, p *pipeline, err error) {
	if p.job.State.Terminal() {
		return
	}
	p.reason = err.Error()
	if p.held {
		stepCtx, cancel := o.step(ctx)
		o.deps.Controller.Cancel(stepCtx, p.job.Key, p.reason)
		cancel()
		p.held = false
	}
	o.transition(p, JobStateErrored)
}

// finish runs on every exit path: it guarantees a terminal state,
// releases the key and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, p *pipeline) {
	job := p.job
	if !job.State.Terminal() {
		o.fail(ctx, p, fmt.Errorf("pipeline exited in state %s", job.State))
	}

	o.deps.Table.Release(job.Key, job.State)

	cost := decimal.Zero
	pricedAs := ""
	if job.Cost != nil {
		cost = *job.Cost
		pricedAs = job.PricedAs.String()
	}

	fields := []zap.Field{
		zap.String("printer", job.Key.Printer),
		zap.Uint32("job_id", uint32(job.Key.JobID)),
		zap.String("user_id", job.UserID),
		zap.Int("pages", job.PageCount),
		zap.Stringer("color", job.Color),
		zap.String("priced_as", pricedAs),
		zap.Stringer("rate", job.Rate),
		zap.Stringer("cost", cost),
		zap.String("state", string(job.State)),
		zap.String("furthest_state", string(p.furthest)),
		zap.String("source", job.Source),
	}
	if p.reason != "" {
		fields = append(fields, zap.String("reason", p.reason))
	}
	if p.balanceAfter != nil {
		fields = append(fields, zap.Stringer("balance", *p.balanceAfter))
	}
	switch job.State {
	case JobStateErrored:
		o.log.Error("print job errored", fields...)
	default:
		o.log.Info("print job settled", fields...)
	}

	if o.deps.Audit == nil {
		return
	}
	rec := &OutcomeRecord{
		ID:            uuid.NewString(),
		Printer:       job.Key.Printer,
		JobID:         uint32(job.Key.JobID),
		UserID:        job.UserID,
		OrgID:         job.OrgID,
		Pages:         job.PageCount,
		Color:         job.Color.String(),
		PricedAs:      pricedAs,
		Rate:          job.Rate,
		Cost:          cost,
		State:         job.State,
		FurthestState: p.furthest,
		Reason:        p.reason,
		BalanceAfter:  p.balanceAfter,
		CreatedAt:     o.now(),
	}
	auditCtx, cancel := o.step(ctx)
	defer cancel()
	if err := o.deps.Audit.RecordOutcome(auditCtx, rec); err != nil {
		o.log.Error("failed to record job outcome", zap.Stringer("job", job.Key), zap.Error(err))
	}
}
