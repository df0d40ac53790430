package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kioskctl/printwatch/internal/spooler"
)

func TestOrchestratorBillsAndResumes(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "10")

	id := h.spooler.Submit(testPrinter, 3, colorDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	if got := h.spooler.Disposition(testPrinter, id); got != spooler.DispositionResumed {
		t.Fatalf("disposition = %s, want resumed", got)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("balance = %s, want 1", got)
	}
	if len(h.notifier.billed) != 1 {
		t.Fatalf("billed notifications = %d, want 1", len(h.notifier.billed))
	}
	ev := h.notifier.billed[0]
	if !ev.Cost.Equal(decimal.NewFromInt(9)) || !ev.RateUsed.Equal(decimal.NewFromInt(3)) || ev.Pages != 3 {
		t.Errorf("billed event = %+v", ev)
	}

	rec := h.audit.byJob(id)
	if rec == nil {
		t.Fatal("no outcome recorded")
	}
	if rec.State != JobStateResumed || rec.FurthestState != JobStatePriced {
		t.Errorf("outcome state = %s/%s", rec.State, rec.FurthestState)
	}
	if rec.ID == "" {
		t.Error("outcome record has no id")
	}
}

func TestOrchestratorMonochromeCost(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "20")

	id := h.spooler.Submit(testPrinter, 5, monoDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	rec := h.audit.byJob(id)
	if rec == nil || !rec.Cost.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("outcome = %+v, want cost 5", rec)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(15)) {
		t.Errorf("balance = %s, want 15", got)
	}
}

func TestOrchestratorUnsetColorBitBilledAsMono(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "20")

	// The driver says color but never set the color field bit.
	id := h.spooler.Submit(testPrinter, 5, &spooler.DevMode{Fields: 0, Color: spooler.ColorColor})
	h.sight(id, SourceEvent)
	h.orch.Wait()

	rec := h.audit.byJob(id)
	if rec == nil {
		t.Fatal("no outcome recorded")
	}
	if !rec.Cost.Equal(decimal.NewFromInt(5)) || !rec.Rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("cost/rate = %s/%s, want 5/1", rec.Cost, rec.Rate)
	}
	if rec.Color != "unknown" || rec.PricedAs != "monochrome" {
		t.Errorf("color/priced_as = %s/%s, want unknown/monochrome", rec.Color, rec.PricedAs)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(15)) {
		t.Errorf("balance = %s, want 15", got)
	}
	if len(h.notifier.billed) != 1 || h.notifier.billed[0].PricedAs != "monochrome" {
		t.Errorf("billed events = %+v", h.notifier.billed)
	}
}

func TestOrchestratorInsufficientBalanceCancels(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "5")

	id := h.spooler.Submit(testPrinter, 3, colorDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	if got := h.spooler.Disposition(testPrinter, id); got != spooler.DispositionCanceled {
		t.Fatalf("disposition = %s, want canceled", got)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance = %s, want unchanged 5", got)
	}
	if len(h.notifier.rejected) != 1 {
		t.Fatalf("rejected notifications = %d, want 1", len(h.notifier.rejected))
	}
	if got := h.notifier.rejected[0].Shortfall; !got.Equal(decimal.NewFromInt(4)) {
		t.Errorf("shortfall = %s, want 4", got)
	}
	if len(h.notifier.billed) != 0 {
		t.Error("insufficient job was reported as billed")
	}
}

func TestOrchestratorPauseNotFound(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "10")
	h.spooler.PauseHook = func(printer string, id spooler.JobID) error {
		return spooler.ErrJobNotFound
	}

	id := h.spooler.Submit(testPrinter, 2, monoDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	key := JobKey{Printer: testPrinter, JobID: id}
	if h.table.InFlight(key) {
		t.Error("key still in flight after errored job")
	}
	if got := h.spooler.CancelCount(testPrinter, id); got != 0 {
		t.Errorf("cancel count = %d, want 0", got)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want unchanged 10", got)
	}
	rec := h.audit.byJob(id)
	if rec == nil || rec.State != JobStateErrored {
		t.Fatalf("outcome = %+v, want errored", rec)
	}
}

func TestOrchestratorPauseFailureCancelsDefensively(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "10")
	h.spooler.PauseHook = func(printer string, id spooler.JobID) error {
		return errors.New("access denied")
	}

	id := h.spooler.Submit(testPrinter, 2, monoDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	if got := h.spooler.Disposition(testPrinter, id); got != spooler.DispositionCanceled {
		t.Errorf("disposition = %s, want canceled", got)
	}
	if rec := h.audit.byJob(id); rec == nil || rec.State != JobStateErrored {
		t.Fatalf("outcome = %+v, want errored", rec)
	}
}

func TestOrchestratorSimultaneousSightings(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "100")

	id := h.spooler.Submit(testPrinter, 1, monoDevMode())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		source := SourceEvent
		if i%2 == 1 {
			source = SourcePoll
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.sight(id, source)
		}()
	}
	wg.Wait()
	h.orch.Wait()

	if got := h.spooler.PauseCount(testPrinter, id); got != 1 {
		t.Errorf("pause count = %d, want 1", got)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(99)) {
		t.Errorf("balance = %s, want 99", got)
	}

	// A late sighting after the job settled must not bill it again.
	h.sight(id, SourcePoll)
	h.orch.Wait()
	if got := h.spooler.PauseCount(testPrinter, id); got != 1 {
		t.Errorf("pause count after late sighting = %d, want 1", got)
	}
}

func TestOrchestratorTwoJobsOneBudget(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "4")

	first := h.spooler.Submit(testPrinter, 3, monoDevMode())
	second := h.spooler.Submit(testPrinter, 3, monoDevMode())
	h.sight(first, SourceEvent)
	h.sight(second, SourceEvent)
	h.orch.Wait()

	dispositions := map[spooler.Disposition]int{}
	for _, id := range []spooler.JobID{first, second} {
		dispositions[h.spooler.Disposition(testPrinter, id)]++
	}
	if dispositions[spooler.DispositionResumed] != 1 || dispositions[spooler.DispositionCanceled] != 1 {
		t.Errorf("dispositions = %v, want one resumed and one canceled", dispositions)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("balance = %s, want 1", got)
	}
}

func TestOrchestratorPricingUnavailable(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "10")
	h.pricing.err = errors.New("metadata store offline")

	id := h.spooler.Submit(testPrinter, 2, monoDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	if got := h.spooler.Disposition(testPrinter, id); got != spooler.DispositionCanceled {
		t.Errorf("disposition = %s, want canceled", got)
	}
	rec := h.audit.byJob(id)
	if rec == nil || rec.State != JobStateErrored || rec.FurthestState != JobStateInspected {
		t.Fatalf("outcome = %+v, want errored after inspection", rec)
	}
	if got := h.accounts.amount("user-1"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance = %s, want unchanged 10", got)
	}
}

func TestOrchestratorNoActiveSession(t *testing.T) {
	h := newHarness(t)
	h.sessions.End()

	id := h.spooler.Submit(testPrinter, 2, monoDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	if got := h.spooler.PauseCount(testPrinter, id); got != 0 {
		t.Errorf("pause count = %d, want 0", got)
	}
	if got := h.spooler.Disposition(testPrinter, id); got != spooler.DispositionCanceled {
		t.Errorf("disposition = %s, want canceled", got)
	}
	if rec := h.audit.byJob(id); rec == nil || rec.State != JobStateCanceled {
		t.Fatalf("outcome = %+v, want canceled", rec)
	}
}

func TestOrchestratorZeroPages(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "0")

	id := h.spooler.Submit(testPrinter, 0, monoDevMode())
	h.sight(id, SourceEvent)
	h.orch.Wait()

	if got := h.spooler.Disposition(testPrinter, id); got != spooler.DispositionResumed {
		t.Errorf("disposition = %s, want resumed", got)
	}
	if h.accounts.deducts != 0 {
		t.Errorf("ledger writes = %d, want 0", h.accounts.deducts)
	}
}

func TestOrchestratorManyUsersManyJobs(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "1000")

	var ids []spooler.JobID
	for i := 0; i < 20; i++ {
		ids = append(ids, h.spooler.Submit(testPrinter, i%4+1, monoDevMode()))
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id spooler.JobID) {
			defer wg.Done()
			h.sight(id, SourceEvent)
		}(id)
	}
	wg.Wait()
	h.orch.Wait()

	var charged decimal.Decimal
	for _, id := range ids {
		rec := h.audit.byJob(id)
		if rec == nil {
			t.Fatalf("job %d has no outcome", id)
		}
		if rec.State == JobStateResumed {
			charged = charged.Add(rec.Cost)
		}
	}
	want := decimal.NewFromInt(1000).Sub(charged)
	if got := h.accounts.amount("user-1"); !got.Equal(want) {
		t.Errorf("balance = %s, want %s", got, want)
	}
	if n := len(h.table.Snapshot()); n != len(ids) {
		t.Errorf("settled entries = %d, want %d", n, len(ids))
	}
	for _, kj := range h.table.Snapshot() {
		if !kj.Settled {
			t.Errorf("%s still in flight", fmt.Sprint(kj.Key))
		}
	}
}

func TestOrchestratorRefusesSightingsAfterShutdown(t *testing.T) {
	h := newHarness(t)
	h.accounts.set("user-1", "20")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.orch.Run(ctx)
		close(done)
	}()

	before := h.spooler.Submit(testPrinter, 2, monoDevMode())
	h.sight(before, SourceEvent)
	cancel()
	<-done

	// Run only returns once accepted jobs are settled.
	if got := h.spooler.Disposition(testPrinter, before); got != spooler.DispositionResumed {
		t.Fatalf("job accepted before shutdown: disposition = %s, want resumed", got)
	}

	late := h.spooler.Submit(testPrinter, 2, monoDevMode())
	h.sight(late, SourcePoll)
	h.orch.Wait()

	if n := h.spooler.PauseCount(testPrinter, late); n != 0 {
		t.Errorf("late job paused %d times, want 0", n)
	}
	if h.table.Known(JobKey{Printer: testPrinter, JobID: late}) {
		t.Error("late job entered the known-jobs table")
	}
	if rec := h.audit.byJob(late); rec != nil {
		t.Errorf("late job has an outcome: %+v", rec)
	}
}
