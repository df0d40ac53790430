package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/kioskctl/printwatch/internal/spooler"
)

type memAccounts struct {
	mu       sync.Mutex
	balances map[string]*Balance
	// conflicts forces the next n conditional updates to lose their race.
	conflicts int
	deducts   int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{balances: make(map[string]*Balance)}
}

func (a *memAccounts) set(userID string, amount string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[userID] = &Balance{Amount: decimal.RequireFromString(amount), Version: 1}
}

func (a *memAccounts) amount(userID string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[userID].Amount
}

func (a *memAccounts) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.balances[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *b
	return &copied, nil
}

func (a *memAccounts) ConditionalDeduct(ctx context.Context, userID string, amount decimal.Decimal, expected Balance) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.balances[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if a.conflicts > 0 {
		a.conflicts--
		b.Version++
		return false, nil
	}
	if b.Version != expected.Version {
		return false, nil
	}
	b.Amount = b.Amount.Sub(amount)
	b.Version++
	a.deducts++
	return true, nil
}

type memPricing struct {
	mu      sync.Mutex
	pricing map[string]OrgPricing
	calls   int
	err     error
}

func newMemPricing() *memPricing {
	return &memPricing{pricing: make(map[string]OrgPricing)}
}

func (p *memPricing) set(orgID, mono, color string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pricing[orgID] = OrgPricing{
		PricePerPageMono:  decimal.RequireFromString(mono),
		PricePerPageColor: decimal.RequireFromString(color),
	}
}

func (p *memPricing) GetPricing(ctx context.Context, orgID string) (*OrgPricing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	pr, ok := p.pricing[orgID]
	if !ok {
		return nil, ErrOrgNotFound
	}
	return &pr, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	billed   []JobBilled
	rejected []JobRejected
}

func (n *recordingNotifier) JobBilled(ctx context.Context, ev JobBilled) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.billed = append(n.billed, ev)
}

func (n *recordingNotifier) JobRejected(ctx context.Context, ev JobRejected) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, ev)
}

type recordingAudit struct {
	mu      sync.Mutex
	records []*OutcomeRecord
}

func (a *recordingAudit) RecordOutcome(ctx context.Context, rec *OutcomeRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) byJob(id spooler.JobID) *OutcomeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if r.JobID == uint32(id) {
			return r
		}
	}
	return nil
}

type harness struct {
	spooler  *spooler.Memory
	accounts *memAccounts
	pricing  *memPricing
	notifier *recordingNotifier
	audit    *recordingAudit
	sessions *Sessions
	table    *KnownJobs
	orch     *Orchestrator
}

const testPrinter = "Front Desk"

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)

	h := &harness{
		spooler:  spooler.NewMemory(testPrinter),
		accounts: newMemAccounts(),
		pricing:  newMemPricing(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		sessions: NewSessions(),
		table:    NewKnownJobs(10 * time.Minute),
	}
	h.pricing.set("org-1", "1", "3")
	if err := h.sessions.Start("user-1", "org-1"); err != nil {
		t.Fatal(err)
	}

	h.orch = NewOrchestrator(Deps{
		Table:      h.table,
		Sessions:   h.sessions,
		Inspector:  NewInspector(h.spooler, time.Millisecond, 3, log),
		Pricing:    NewPricingResolver(h.pricing, time.Minute, log),
		Ledger:     NewBudgetLedger(h.accounts, 3, log),
		Controller: NewJobController(h.spooler, h.notifier, log),
		Audit:      h.audit,
	}, OrchestratorConfig{StepTimeout: time.Second, StaleTimeout: time.Minute}, log)
	return h
}

func (h *harness) sight(id spooler.JobID, source string) {
	h.orch.JobSighted(context.Background(), Sighting{
		Key:    JobKey{Printer: testPrinter, JobID: id},
		Source: source,
	})
}

func monoDevMode() *spooler.DevMode {
	return &spooler.DevMode{Fields: spooler.FieldColor, Color: spooler.ColorMonochrome}
}

func colorDevMode() *spooler.DevMode {
	return &spooler.DevMode{Fields: spooler.FieldColor, Color: spooler.ColorColor}
}
