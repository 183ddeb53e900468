package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/internal/metrics"
	"github.com/fkhayef/settleup/internal/notification"
)

const (
	alice ledger.MemberID = 1
	bob   ledger.MemberID = 2
	carol ledger.MemberID = 3
	dave  ledger.MemberID = 4

	groupID int64 = 10
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeLedger serves every read the service needs from memory. The first
// staleWrites appends fail as if another writer had moved the version
type fakeLedger struct {
	mu          sync.Mutex
	version     int64
	members     []ledger.Member
	expenses    []ledger.Expense
	settlements []ledger.Settlement
	handles     map[ledger.MemberID]string
	names       map[ledger.MemberID]string
	staleWrites int
	appends     int
	nextID      int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		version: 1,
		members: []ledger.Member{
			{ID: alice, FullName: "Alice"},
			{ID: bob, FullName: "Bob"},
			{ID: carol, FullName: "Carol"},
		},
		handles: map[ledger.MemberID]string{alice: "@alice"},
		names:   map[ledger.MemberID]string{alice: "Alice", bob: "Bob", carol: "Carol", dave: "Dave"},
	}
}

func (f *fakeLedger) GetGroup(ctx context.Context, id int64) (*group.Group, error) {
	if id != groupID {
		return nil, group.ErrGroupNotFound
	}
	return &group.Group{ID: id, Name: "Trip"}, nil
}

func (f *fakeLedger) RequireMember(ctx context.Context, id, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if int64(m.ID) == userID {
			return nil
		}
	}
	return group.ErrNotMember
}

func (f *fakeLedger) ListCurrentMembers(ctx context.Context, id int64) ([]ledger.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Member(nil), f.members...), nil
}

func (f *fakeLedger) LedgerVersion(ctx context.Context, id int64) (int64, error) {
	if id != groupID {
		return 0, group.ErrGroupNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, nil
}

func (f *fakeLedger) GetProfiles(ctx context.Context, ids []ledger.MemberID) (map[ledger.MemberID]ledger.Profile, error) {
	out := make(map[ledger.MemberID]ledger.Profile, len(ids))
	for _, id := range ids {
		out[id] = ledger.Profile{FullName: f.names[id], PaymentHandle: f.handles[id]}
	}
	return out, nil
}

func (f *fakeLedger) ListLedgerExpenses(ctx context.Context, id int64) ([]ledger.Expense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Expense(nil), f.expenses...), nil
}

func (f *fakeLedger) ListLedgerSettlements(ctx context.Context, id int64) ([]ledger.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Settlement(nil), f.settlements...), nil
}

func (f *fakeLedger) ListByGroup(ctx context.Context, id int64, limit, offset int) ([]*Settlement, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Settlement, 0, len(f.settlements))
	for i := len(f.settlements) - 1; i >= 0; i-- {
		s := f.settlements[i]
		out = append(out, &Settlement{ID: s.ID, GroupID: id, From: s.From, To: s.To, Amount: s.Amount})
	}
	return out, len(out), nil
}

func (f *fakeLedger) AppendWithVersion(ctx context.Context, s *Settlement, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if f.staleWrites > 0 {
		f.staleWrites--
		f.version++
		return group.ErrStaleLedger
	}
	if expectedVersion != f.version {
		return group.ErrStaleLedger
	}
	f.nextID++
	s.ID = f.nextID
	f.settlements = append(f.settlements, s.Ledger())
	f.version++
	return nil
}

func (f *fakeLedger) addExpense(paidBy ledger.MemberID, amount string, shares map[ledger.MemberID]string, order ...ledger.MemberID) {
	e := ledger.Expense{ID: int64(len(f.expenses) + 1), PaidBy: paidBy, Amount: dec(amount)}
	for _, id := range order {
		e.SplitDetails = append(e.SplitDetails, ledger.SplitDetail{Member: id, Amount: dec(shares[id])})
	}
	f.expenses = append(f.expenses, e)
	f.version++
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func newTestService(l *fakeLedger) (*Service, *recordingNotifier, *metrics.Metrics) {
	n := &recordingNotifier{}
	m := metrics.New()
	return NewService(l, l, l, l, n, m), n, m
}

func nets(b *GroupBalances) map[ledger.MemberID]string {
	out := make(map[ledger.MemberID]string, len(b.Members))
	for _, m := range b.Members {
		out[m.Member] = m.Net.StringFixed(2)
	}
	return out
}

func assertNets(t *testing.T, b *GroupBalances, want map[ledger.MemberID]string) {
	t.Helper()
	got := nets(b)
	for id, w := range want {
		if got[id] != w {
			t.Errorf("member %d net = %s, want %s", id, got[id], w)
		}
	}
	total := decimal.Zero
	for _, m := range b.Members {
		total = total.Add(m.Net)
	}
	if !total.IsZero() {
		t.Errorf("balances sum to %s", total)
	}
}

type transfer struct {
	from, to ledger.MemberID
	amount   string
}

func assertSuggestions(t *testing.T, got []Suggestion, want []transfer) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d suggestions, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].From != w.from || got[i].To != w.to || got[i].Amount.StringFixed(2) != w.amount {
			t.Errorf("suggestion %d = %d->%d %s, want %d->%d %s",
				i, got[i].From, got[i].To, got[i].Amount.StringFixed(2), w.from, w.to, w.amount)
		}
	}
}

func TestBalancesAndSuggestions(t *testing.T) {
	ctx := context.Background()
	equalThree := map[ledger.MemberID]string{alice: "100", bob: "100", carol: "100"}

	tests := []struct {
		name      string
		setup     func(l *fakeLedger)
		wantNets  map[ledger.MemberID]string
		wantSugg  []transfer
		caller    ledger.MemberID
		wantError error
	}{
		{
			name: "equal split paid by one member",
			setup: func(l *fakeLedger) {
				l.addExpense(alice, "300", equalThree, alice, bob, carol)
			},
			wantNets: map[ledger.MemberID]string{alice: "200.00", bob: "-100.00", carol: "-100.00"},
			wantSugg: []transfer{{bob, alice, "100.00"}, {carol, alice, "100.00"}},
		},
		{
			name: "recorded settlement reduces debt",
			setup: func(l *fakeLedger) {
				l.addExpense(alice, "300", equalThree, alice, bob, carol)
				l.settlements = append(l.settlements, ledger.Settlement{ID: 1, From: bob, To: alice, Amount: dec("100")})
			},
			wantNets: map[ledger.MemberID]string{alice: "100.00", bob: "0.00", carol: "-100.00"},
			wantSugg: []transfer{{carol, alice, "100.00"}},
		},
		{
			name: "exact split",
			setup: func(l *fakeLedger) {
				l.addExpense(bob, "90", map[ledger.MemberID]string{alice: "30", bob: "30", carol: "30"}, alice, bob, carol)
			},
			wantNets: map[ledger.MemberID]string{alice: "-30.00", bob: "60.00", carol: "-30.00"},
			wantSugg: []transfer{{alice, bob, "30.00"}, {carol, bob, "30.00"}},
		},
		{
			name: "percentage split",
			setup: func(l *fakeLedger) {
				l.addExpense(alice, "100", map[ledger.MemberID]string{alice: "50", bob: "30", carol: "20"}, alice, bob, carol)
			},
			wantNets: map[ledger.MemberID]string{alice: "50.00", bob: "-30.00", carol: "-20.00"},
			wantSugg: []transfer{{bob, alice, "30.00"}, {carol, alice, "20.00"}},
		},
		{
			name:     "group without expenses",
			setup:    func(l *fakeLedger) {},
			wantNets: map[ledger.MemberID]string{alice: "0.00", bob: "0.00", carol: "0.00"},
			wantSugg: []transfer{},
		},
		{
			name:      "outsider cannot read balances",
			setup:     func(l *fakeLedger) {},
			caller:    dave,
			wantError: ledger.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			tt.setup(l)
			svc, _, _ := newTestService(l)

			caller := tt.caller
			if caller == 0 {
				caller = alice
			}

			balances, err := svc.ComputeBalances(ctx, groupID, int64(caller))
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("err = %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeBalances: %v", err)
			}
			if len(balances.Members) != 3 {
				t.Fatalf("got %d members, want 3", len(balances.Members))
			}
			assertNets(t, balances, tt.wantNets)

			suggestions, err := svc.SuggestSettlements(ctx, groupID, int64(caller))
			if err != nil {
				t.Fatalf("SuggestSettlements: %v", err)
			}
			if suggestions.Suggestions == nil {
				t.Fatal("suggestions must not be nil")
			}
			assertSuggestions(t, suggestions.Suggestions, tt.wantSugg)
			assertNets(t, suggestions.Balances, tt.wantNets)
		})
	}
}

func TestSuggestionsCarryNamesAndHandles(t *testing.T) {
	l := newFakeLedger()
	l.addExpense(alice, "300", map[ledger.MemberID]string{alice: "100", bob: "100", carol: "100"}, alice, bob, carol)
	svc, _, _ := newTestService(l)

	got, err := svc.SuggestSettlements(context.Background(), groupID, int64(bob))
	if err != nil {
		t.Fatal(err)
	}
	first := got.Suggestions[0]
	if first.FromName != "Bob" || first.ToName != "Alice" || first.ToPaymentHandle != "@alice" {
		t.Errorf("unexpected suggestion details: %+v", first)
	}
}

func TestBalancesNameFormerMembers(t *testing.T) {
	l := newFakeLedger()
	l.addExpense(alice, "90", map[ledger.MemberID]string{alice: "30", bob: "30", dave: "30"}, alice, bob, dave)
	svc, _, _ := newTestService(l)

	got, err := svc.ComputeBalances(context.Background(), groupID, int64(alice))
	if err != nil {
		t.Fatal(err)
	}
	assertNets(t, got, map[ledger.MemberID]string{alice: "60.00", bob: "-30.00", carol: "0.00", dave: "-30.00"})

	var former *ledger.NetBalance
	for i := range got.Members {
		if got.Members[i].Member == dave {
			former = &got.Members[i]
		}
	}
	if former == nil {
		t.Fatal("dave missing from balances")
	}
	if !former.Former || former.FullName != "Dave" {
		t.Errorf("dave = %+v, want a named former member", *former)
	}
}

func TestRecordSettlement(t *testing.T) {
	ctx := context.Background()
	percentage := map[ledger.MemberID]string{alice: "50", bob: "30", carol: "20"}

	tests := []struct {
		name    string
		caller  ledger.MemberID
		req     RecordSettlementRequest
		wantErr error
	}{
		{
			name:   "pays part of the debt",
			caller: carol,
			req:    RecordSettlementRequest{From: int64(carol), To: int64(alice), Amount: dec("15")},
		},
		{
			name:   "pays the whole debt",
			caller: bob,
			req:    RecordSettlementRequest{From: int64(bob), To: int64(alice), Amount: dec("30")},
		},
		{
			name:    "more than owed",
			caller:  carol,
			req:     RecordSettlementRequest{From: int64(carol), To: int64(alice), Amount: dec("25")},
			wantErr: ledger.ErrOverpayment,
		},
		{
			name:    "creditor pays",
			caller:  alice,
			req:     RecordSettlementRequest{From: int64(alice), To: int64(bob), Amount: dec("1")},
			wantErr: ledger.ErrOverpayment,
		},
		{
			name:    "to self",
			caller:  carol,
			req:     RecordSettlementRequest{From: int64(carol), To: int64(carol), Amount: dec("5")},
			wantErr: ErrSelfSettlement,
		},
		{
			name:    "on behalf of someone else",
			caller:  alice,
			req:     RecordSettlementRequest{From: int64(carol), To: int64(alice), Amount: dec("5")},
			wantErr: ErrNotPayer,
		},
		{
			name:    "receiver outside the group",
			caller:  carol,
			req:     RecordSettlementRequest{From: int64(carol), To: int64(dave), Amount: dec("5")},
			wantErr: ErrReceiverNotMember,
		},
		{
			name:    "payer outside the group",
			caller:  dave,
			req:     RecordSettlementRequest{From: int64(dave), To: int64(alice), Amount: dec("5")},
			wantErr: group.ErrNotMember,
		},
		{
			name:    "zero amount",
			caller:  carol,
			req:     RecordSettlementRequest{From: int64(carol), To: int64(alice), Amount: dec("0")},
			wantErr: ErrNonPositive,
		},
		{
			name:    "sub-cent amount",
			caller:  carol,
			req:     RecordSettlementRequest{From: int64(carol), To: int64(alice), Amount: dec("1.005")},
			wantErr: ErrAmountPrecision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			l.addExpense(alice, "100", percentage, alice, bob, carol)
			svc, notifier, m := newTestService(l)

			req := tt.req
			got, err := svc.RecordSettlement(ctx, groupID, int64(tt.caller), &req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if len(l.settlements) != 0 {
					t.Errorf("rejected settlement was stored")
				}
				if len(notifier.events) != 0 {
					t.Errorf("rejected settlement sent %d notifications", len(notifier.events))
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordSettlement: %v", err)
			}
			if got.ID == 0 {
				t.Error("settlement id not assigned")
			}
			if len(notifier.events) != 2 {
				t.Fatalf("got %d notifications, want 2", len(notifier.events))
			}
			if notifier.events[0].Type != notification.TypeSettlementReceived || notifier.events[0].RecipientID != req.To {
				t.Errorf("first notification = %+v", notifier.events[0])
			}
			if notifier.events[1].Type != notification.TypeSettlementRecorded || notifier.events[1].RecipientID != req.From {
				t.Errorf("second notification = %+v", notifier.events[1])
			}
			if got := testutil.ToFloat64(m.SettlementsRecorded); got != 1 {
				t.Errorf("settlements recorded = %v, want 1", got)
			}
		})
	}
}

func TestRecordSettlementOverpaymentDetails(t *testing.T) {
	l := newFakeLedger()
	l.addExpense(alice, "100", map[ledger.MemberID]string{alice: "50", bob: "30", carol: "20"}, alice, bob, carol)
	svc, _, m := newTestService(l)

	_, err := svc.RecordSettlement(context.Background(), groupID, int64(carol), &RecordSettlementRequest{
		From: int64(carol), To: int64(alice), Amount: dec("25"),
	})

	var overpayment *ledger.OverpaymentError
	if !errors.As(err, &overpayment) {
		t.Fatalf("err = %v, want *ledger.OverpaymentError", err)
	}
	if !overpayment.MaxPayable.Equal(dec("20")) {
		t.Errorf("max payable = %s, want 20", overpayment.MaxPayable)
	}
	if want := "Amount exceeds pending debt. Max payable: 20.00"; err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
	if got := testutil.ToFloat64(m.Overpayments); got != 1 {
		t.Errorf("overpayments = %v, want 1", got)
	}
}

func TestRecordSettlementThenBalancesMove(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	l.addExpense(alice, "300", map[ledger.MemberID]string{alice: "100", bob: "100", carol: "100"}, alice, bob, carol)
	svc, _, _ := newTestService(l)

	if _, err := svc.RecordSettlement(ctx, groupID, int64(bob), &RecordSettlementRequest{
		From: int64(bob), To: int64(alice), Amount: dec("100"),
	}); err != nil {
		t.Fatal(err)
	}

	balances, err := svc.ComputeBalances(ctx, groupID, int64(alice))
	if err != nil {
		t.Fatal(err)
	}
	assertNets(t, balances, map[ledger.MemberID]string{alice: "100.00", bob: "0.00", carol: "-100.00"})

	// Bob is settled up, so a second payment is an overpayment
	_, err = svc.RecordSettlement(ctx, groupID, int64(bob), &RecordSettlementRequest{
		From: int64(bob), To: int64(alice), Amount: dec("0.01"),
	})
	if !errors.Is(err, ledger.ErrOverpayment) {
		t.Fatalf("err = %v, want overpayment", err)
	}
}

func TestRecordSettlementRetriesOnStaleLedger(t *testing.T) {
	tests := []struct {
		name        string
		staleWrites int
		wantErr     error
		wantAppends int
	}{
		{name: "succeeds after one conflict", staleWrites: 1, wantAppends: 2},
		{name: "succeeds on the last attempt", staleWrites: maxRecordAttempts - 1, wantAppends: maxRecordAttempts},
		{name: "gives up", staleWrites: maxRecordAttempts, wantErr: ErrConcurrentUpdate, wantAppends: maxRecordAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			l.addExpense(alice, "300", map[ledger.MemberID]string{alice: "100", bob: "100", carol: "100"}, alice, bob, carol)
			l.staleWrites = tt.staleWrites
			svc, _, m := newTestService(l)

			_, err := svc.RecordSettlement(context.Background(), groupID, int64(bob), &RecordSettlementRequest{
				From: int64(bob), To: int64(alice), Amount: dec("50"),
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, ledger.ErrConflict) {
					t.Errorf("err = %v is not a conflict", err)
				}
			} else if err != nil {
				t.Fatalf("RecordSettlement: %v", err)
			}

			if l.appends != tt.wantAppends {
				t.Errorf("appends = %d, want %d", l.appends, tt.wantAppends)
			}
			if got := testutil.ToFloat64(m.SettlementRetries); got != float64(tt.staleWrites) {
				t.Errorf("retries = %v, want %d", got, tt.staleWrites)
			}
		})
	}
}

func TestConcurrentSettlementsNeverExceedDebt(t *testing.T) {
	l := newFakeLedger()
	l.addExpense(alice, "300", map[ledger.MemberID]string{alice: "100", bob: "100", carol: "100"}, alice, bob, carol)
	svc, _, _ := newTestService(l)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordSettlement(context.Background(), groupID, int64(bob), &RecordSettlementRequest{
				From: int64(bob), To: int64(alice), Amount: dec("60"),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("%d settlements of 60 succeeded against a debt of 100, want 1", succeeded)
	}
}

func TestListSettlements(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	l.settlements = []ledger.Settlement{
		{ID: 1, From: bob, To: alice, Amount: dec("10")},
		{ID: 2, From: carol, To: alice, Amount: dec("20")},
	}
	svc, _, _ := newTestService(l)

	got, total, err := svc.ListSettlements(ctx, groupID, int64(bob), 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || got[0].ID != 2 {
		t.Errorf("got total %d first %d, want 2 and newest first", total, got[0].ID)
	}

	if _, _, err := svc.ListSettlements(ctx, groupID, int64(dave), 20, 0); !errors.Is(err, group.ErrNotMember) {
		t.Errorf("outsider err = %v, want %v", err, group.ErrNotMember)
	}
}

func TestRequestPaymentDetails(t *testing.T) {
	tests := []struct {
		name    string
		caller  ledger.MemberID
		req     PaymentDetailsRequest
		wantErr error
	}{
		{name: "debtor asks creditor", caller: bob, req: PaymentDetailsRequest{To: int64(alice), Amount: dec("30")}},
		{name: "creditor asks", caller: alice, req: PaymentDetailsRequest{To: int64(bob), Amount: dec("30")}, wantErr: ErrNotDebtor},
		{name: "asks another debtor", caller: bob, req: PaymentDetailsRequest{To: int64(carol), Amount: dec("5")}, wantErr: ErrNotCreditor},
		{name: "asks self", caller: bob, req: PaymentDetailsRequest{To: int64(bob), Amount: dec("5")}, wantErr: ErrSelfSettlement},
		{name: "asks outsider", caller: bob, req: PaymentDetailsRequest{To: int64(dave), Amount: dec("5")}, wantErr: ErrReceiverNotMember},
		{name: "zero amount", caller: bob, req: PaymentDetailsRequest{To: int64(alice)}, wantErr: ErrNonPositive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			l.addExpense(alice, "100", map[ledger.MemberID]string{alice: "50", bob: "30", carol: "20"}, alice, bob, carol)
			svc, notifier, _ := newTestService(l)

			req := tt.req
			err := svc.RequestPaymentDetails(context.Background(), groupID, int64(tt.caller), &req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(notifier.events) != 1 {
				t.Fatalf("got %d notifications, want 1", len(notifier.events))
			}
			e := notifier.events[0]
			if e.Type != notification.TypePaymentDetailsRequest || e.RecipientID != req.To || e.GroupID != groupID {
				t.Errorf("unexpected notification %+v", e)
			}
		})
	}
}
