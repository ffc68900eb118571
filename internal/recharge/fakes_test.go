package recharge

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"frameworks/purser-recharge/internal/campaigns"
	"frameworks/purser-recharge/internal/gateway"
	"frameworks/purser-recharge/internal/lease"
	"frameworks/purser-recharge/internal/ledger"
	"frameworks/purser-recharge/internal/notify"
	"frameworks/purser-recharge/internal/settings"
)

type fakeConfigs struct {
	configs  map[string]*settings.Config
	listErr  error
	resetErr error
	disabled map[string]string
}

func newFakeConfigs(cfgs ...settings.Config) *fakeConfigs {
	f := &fakeConfigs{configs: map[string]*settings.Config{}, disabled: map[string]string{}}
	for i := range cfgs {
		c := cfgs[i]
		f.configs[c.OrganizationID] = &c
	}
	return f
}

func (f *fakeConfigs) ResetElapsed(_ context.Context, now time.Time) (int64, error) {
	if f.resetErr != nil {
		return 0, f.resetErr
	}
	var n int64
	for _, c := range f.configs {
		if c.Enabled && !c.MonthResetAt.After(now) {
			c.RechargesThisMonth = 0
			c.MonthResetAt = settings.NextMonthStart(now)
			n++
		}
	}
	return n, nil
}

// ListCandidates deliberately returns every config, in id order, so the
// selector's own filtering is exercised.
func (f *fakeConfigs) ListCandidates(context.Context) ([]settings.Config, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.configs))
	for id := range f.configs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]settings.Config, 0, len(ids))
	for _, id := range ids {
		out = append(out, *f.configs[id])
	}
	return out, nil
}

func (f *fakeConfigs) Get(_ context.Context, orgID string) (settings.Config, error) {
	c, ok := f.configs[orgID]
	if !ok {
		return settings.Config{}, settings.ErrNotFound
	}
	return *c, nil
}

func (f *fakeConfigs) Disable(_ context.Context, orgID, reason string) error {
	c, ok := f.configs[orgID]
	if !ok {
		return settings.ErrNotFound
	}
	c.Enabled = false
	c.DisabledReason = reason
	f.disabled[orgID] = reason
	return nil
}

func (f *fakeConfigs) IncrementCounter(orgID string, at time.Time) ledger.TxHook {
	return func(context.Context, *sql.Tx) error {
		c := f.configs[orgID]
		if c.RechargesThisMonth >= c.MaxMonthlyRecharges {
			return settings.ErrCapReached
		}
		c.RechargesThisMonth++
		c.LastRechargeAt = &at
		return nil
	}
}

type fakeLedger struct {
	orgs       map[string]*ledger.Organization
	entries    []ledger.Entry
	seen       map[string]bool
	applyErr   error
	balanceErr map[string]error
	applyCtx   []error
}

func newFakeLedger(orgs ...ledger.Organization) *fakeLedger {
	f := &fakeLedger{orgs: map[string]*ledger.Organization{}, seen: map[string]bool{}, balanceErr: map[string]error{}}
	for i := range orgs {
		o := orgs[i]
		f.orgs[o.ID] = &o
	}
	return f
}

func (f *fakeLedger) Balance(_ context.Context, orgID string) (ledger.Organization, error) {
	if err := f.balanceErr[orgID]; err != nil {
		return ledger.Organization{}, err
	}
	o, ok := f.orgs[orgID]
	if !ok {
		return ledger.Organization{}, ledger.ErrOrganizationNotFound
	}
	return *o, nil
}

func (f *fakeLedger) Apply(ctx context.Context, e ledger.Entry, hooks ...ledger.TxHook) (ledger.Result, error) {
	f.applyCtx = append(f.applyCtx, ctx.Err())
	if f.applyErr != nil {
		return ledger.Result{}, f.applyErr
	}
	o, ok := f.orgs[e.OrganizationID]
	if !ok {
		return ledger.Result{}, ledger.ErrOrganizationNotFound
	}
	key := e.ReferenceID + "|" + string(e.Kind) + "|" + e.EntryType
	if e.ReferenceID != "" && f.seen[key] {
		return ledger.Result{PreviousBalanceCents: o.CreditBalanceCents, BalanceAfterCents: o.CreditBalanceCents}, nil
	}
	for _, h := range hooks {
		if err := h(ctx, nil); err != nil {
			return ledger.Result{}, err
		}
	}
	prev := o.CreditBalanceCents
	o.CreditBalanceCents += e.AmountCents
	f.seen[key] = true
	e.BalanceAfterCents = o.CreditBalanceCents
	f.entries = append(f.entries, e)
	return ledger.Result{Applied: true, EntryID: key, PreviousBalanceCents: prev, BalanceAfterCents: o.CreditBalanceCents}, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []gateway.ChargeRequest
	respond  func(req gateway.ChargeRequest) gateway.Result
	onCharge func()
}

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) gateway.Result {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	n := len(g.calls)
	g.mu.Unlock()
	if g.onCharge != nil {
		g.onCharge()
	}
	if g.respond != nil {
		return g.respond(req)
	}
	return gateway.Result{Status: gateway.StatusSucceeded, TransactionID: "tx_" + strconv.Itoa(n)}
}

type fakeCampaigns struct {
	campaigns map[string][]*fakeCampaign
	err       error
}

type fakeCampaign struct {
	id     string
	status string
	reason string
}

func (f *fakeCampaigns) Resume(_ context.Context, orgID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, c := range f.campaigns[orgID] {
		if c.status == campaigns.StatusPaused && c.reason == campaigns.PausedReasonInsufficientCredits {
			c.status = campaigns.StatusRunning
			c.reason = ""
			n++
		}
	}
	return n, nil
}

type capturingNotifier struct {
	got []notify.Notification
}

func (c *capturingNotifier) Notify(n notify.Notification) {
	c.got = append(c.got, n)
}

func (c *capturingNotifier) types() []string {
	out := make([]string, 0, len(c.got))
	for _, n := range c.got {
		out = append(out, n.Type)
	}
	return out
}

type heldLocker struct {
	held      map[string]bool
	err       error
	onAcquire func(orgID string)
}

func (h heldLocker) TryAcquire(_ context.Context, orgID string) (*lease.Lease, error) {
	if h.err != nil {
		return nil, h.err
	}
	if h.held[orgID] {
		return nil, lease.ErrHeld
	}
	if h.onAcquire != nil {
		h.onAcquire(orgID)
	}
	return &lease.Lease{}, nil
}

var errBoom = errors.New("boom")
