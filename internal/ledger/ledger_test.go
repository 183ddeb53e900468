package ledger

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

const (
	alice MemberID = 1
	bob   MemberID = 2
	carol MemberID = 3
	dave  MemberID = 4
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trio() []Member {
	return []Member{
		{ID: alice, FullName: "Alice"},
		{ID: bob, FullName: "Bob"},
		{ID: carol, FullName: "Carol"},
	}
}

func equalThree(id int64, paidBy MemberID, amount string) Expense {
	share := d(amount).Div(decimal.NewFromInt(3))
	return Expense{
		ID:        id,
		PaidBy:    paidBy,
		Amount:    d(amount),
		SplitType: SplitTypeEqual,
		SplitDetails: []SplitDetail{
			{Member: alice, Amount: share},
			{Member: bob, Amount: share},
			{Member: carol, Amount: share},
		},
	}
}

func assertNets(t *testing.T, got Balances, want map[MemberID]string) {
	t.Helper()
	if len(got.Members) != len(want) {
		t.Fatalf("got %d balances, want %d: %+v", len(got.Members), len(want), got.Members)
	}
	for id, w := range want {
		net, ok := got.Net(id)
		if !ok {
			t.Errorf("member %d missing from balances", id)
			continue
		}
		if !net.Equal(d(w)) {
			t.Errorf("member %d: net = %s, want %s", id, net, w)
		}
	}
}

func assertTransfers(t *testing.T, got []Transfer, want []Transfer) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d transfers, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].From != want[i].From || got[i].To != want[i].To || !got[i].Amount.Equal(want[i].Amount) {
			t.Errorf("transfer %d = %d->%d %s, want %d->%d %s",
				i, got[i].From, got[i].To, got[i].Amount, want[i].From, want[i].To, want[i].Amount)
		}
	}
}

func TestComputeBalances(t *testing.T) {
	tests := []struct {
		name        string
		members     []Member
		expenses    []Expense
		settlements []Settlement
		want        map[MemberID]string
	}{
		{
			name:     "equal split paid by one member",
			members:  trio(),
			expenses: []Expense{equalThree(1, alice, "300")},
			want:     map[MemberID]string{alice: "200", bob: "-100", carol: "-100"},
		},
		{
			name:        "settlement moves the payer towards zero",
			members:     trio(),
			expenses:    []Expense{equalThree(1, alice, "300")},
			settlements: []Settlement{{ID: 1, From: bob, To: alice, Amount: d("100")}},
			want:        map[MemberID]string{alice: "100", bob: "0", carol: "-100"},
		},
		{
			name:    "exact split",
			members: trio(),
			expenses: []Expense{{
				ID: 1, PaidBy: bob, Amount: d("90"), SplitType: SplitTypeExact,
				SplitDetails: []SplitDetail{
					{Member: alice, Amount: d("30")},
					{Member: bob, Amount: d("30")},
					{Member: carol, Amount: d("30")},
				},
			}},
			want: map[MemberID]string{alice: "-30", bob: "60", carol: "-30"},
		},
		{
			name:    "percentage split",
			members: trio(),
			expenses: []Expense{{
				ID: 1, PaidBy: alice, Amount: d("100"), SplitType: SplitTypePercentage,
				SplitDetails: []SplitDetail{
					{Member: alice, Amount: d("50")},
					{Member: bob, Amount: d("30")},
					{Member: carol, Amount: d("20")},
				},
			}},
			want: map[MemberID]string{alice: "50", bob: "-30", carol: "-20"},
		},
		{
			name:    "no records",
			members: trio(),
			want:    map[MemberID]string{alice: "0", bob: "0", carol: "0"},
		},
		{
			name:     "rounding happens once at the end",
			members:  trio(),
			expenses: []Expense{equalThree(1, alice, "100")},
			want:     map[MemberID]string{alice: "66.67", bob: "-33.33", carol: "-33.33"},
		},
		{
			name:    "former member with open balance is appended",
			members: []Member{{ID: alice, FullName: "Alice"}, {ID: bob, FullName: "Bob"}},
			expenses: []Expense{{
				ID: 1, PaidBy: alice, Amount: d("40"), SplitType: SplitTypeExact,
				SplitDetails: []SplitDetail{
					{Member: dave, Amount: d("40")},
				},
			}},
			want: map[MemberID]string{alice: "40", bob: "0", dave: "-40"},
		},
		{
			name:    "former member at zero is dropped",
			members: []Member{{ID: alice, FullName: "Alice"}, {ID: bob, FullName: "Bob"}},
			expenses: []Expense{{
				ID: 1, PaidBy: alice, Amount: d("40"), SplitType: SplitTypeExact,
				SplitDetails: []SplitDetail{{Member: dave, Amount: d("40")}},
			}},
			settlements: []Settlement{{ID: 1, From: dave, To: alice, Amount: d("40")}},
			want:        map[MemberID]string{alice: "0", bob: "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBalances(tt.members, tt.expenses, tt.settlements)
			assertNets(t, got, tt.want)

			for i, m := range tt.members {
				if got.Members[i].Member != m.ID {
					t.Errorf("position %d holds member %d, want %d", i, got.Members[i].Member, m.ID)
				}
				if got.Members[i].Former {
					t.Errorf("current member %d flagged as former", m.ID)
				}
			}
		})
	}
}

func TestComputeBalancesFormerFlag(t *testing.T) {
	got := ComputeBalances(
		[]Member{{ID: alice}},
		[]Expense{{ID: 1, PaidBy: alice, Amount: d("10"), SplitDetails: []SplitDetail{{Member: dave, Amount: d("10")}}}},
		nil,
	)
	last := got.Members[len(got.Members)-1]
	if last.Member != dave || !last.Former {
		t.Errorf("last balance = %+v, want former member %d", last, dave)
	}
}

func TestSuggestSettlements(t *testing.T) {
	tests := []struct {
		name     string
		balances []NetBalance
		want     []Transfer
	}{
		{
			name: "single creditor drained in order",
			balances: []NetBalance{
				{Member: alice, Net: d("200")},
				{Member: bob, Net: d("-100")},
				{Member: carol, Net: d("-100")},
			},
			want: []Transfer{
				{From: bob, To: alice, Amount: d("100")},
				{From: carol, To: alice, Amount: d("100")},
			},
		},
		{
			name: "one debtor left after a settlement",
			balances: []NetBalance{
				{Member: alice, Net: d("100")},
				{Member: bob, Net: d("0")},
				{Member: carol, Net: d("-100")},
			},
			want: []Transfer{{From: carol, To: alice, Amount: d("100")}},
		},
		{
			name: "single debtor pays two creditors",
			balances: []NetBalance{
				{Member: alice, Net: d("-30")},
				{Member: bob, Net: d("60")},
				{Member: carol, Net: d("-30")},
			},
			want: []Transfer{
				{From: alice, To: bob, Amount: d("30")},
				{From: carol, To: bob, Amount: d("30")},
			},
		},
		{
			name: "both pointers advance on an exact match",
			balances: []NetBalance{
				{Member: alice, Net: d("25")},
				{Member: bob, Net: d("-25")},
				{Member: carol, Net: d("10")},
				{Member: dave, Net: d("-10")},
			},
			want: []Transfer{
				{From: bob, To: alice, Amount: d("25")},
				{From: dave, To: carol, Amount: d("10")},
			},
		},
		{
			name: "debtor spread across creditors",
			balances: []NetBalance{
				{Member: alice, Net: d("15.50")},
				{Member: bob, Net: d("4.50")},
				{Member: carol, Net: d("-20")},
			},
			want: []Transfer{
				{From: carol, To: alice, Amount: d("15.50")},
				{From: carol, To: bob, Amount: d("4.50")},
			},
		},
		{
			name: "all zero",
			balances: []NetBalance{
				{Member: alice, Net: d("0")},
				{Member: bob, Net: d("0")},
			},
			want: []Transfer{},
		},
		{
			name:     "empty",
			balances: nil,
			want:     []Transfer{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestSettlements(tt.balances)
			if got == nil {
				t.Fatal("SuggestSettlements returned nil, want empty slice")
			}
			assertTransfers(t, got, tt.want)
		})
	}
}

func TestSuggestSettlementsDoesNotMutateInput(t *testing.T) {
	balances := []NetBalance{
		{Member: alice, Net: d("10")},
		{Member: bob, Net: d("-10")},
	}
	SuggestSettlements(balances)
	if !balances[0].Net.Equal(d("10")) || !balances[1].Net.Equal(d("-10")) {
		t.Errorf("input modified: %+v", balances)
	}
}

func TestBalancesOwed(t *testing.T) {
	b := ComputeBalances(trio(), []Expense{{
		ID: 1, PaidBy: alice, Amount: d("100"),
		SplitDetails: []SplitDetail{
			{Member: alice, Amount: d("50")},
			{Member: bob, Amount: d("30")},
			{Member: carol, Amount: d("20")},
		},
	}}, nil)

	tests := []struct {
		id   MemberID
		want string
	}{
		{alice, "0"},
		{bob, "30"},
		{carol, "20"},
		{dave, "0"},
	}
	for _, tt := range tests {
		if got := b.Owed(tt.id); !got.Equal(d(tt.want)) {
			t.Errorf("Owed(%d) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

// randomLedger builds a consistent ledger whose expense splits sum exactly to
// the expense amount
func randomLedger(r *rand.Rand, n int) ([]Member, []Expense, []Settlement) {
	members := make([]Member, n)
	for i := range members {
		members[i] = Member{ID: MemberID(i + 1)}
	}

	expenses := make([]Expense, 0, 20)
	for e := 0; e < 20; e++ {
		payer := members[r.Intn(n)].ID
		participants := 1 + r.Intn(n)
		total := decimal.Zero
		details := make([]SplitDetail, participants)
		for p := 0; p < participants; p++ {
			share := decimal.New(int64(1+r.Intn(10000)), -2)
			details[p] = SplitDetail{Member: members[p].ID, Amount: share}
			total = total.Add(share)
		}
		expenses = append(expenses, Expense{ID: int64(e + 1), PaidBy: payer, Amount: total, SplitDetails: details})
	}

	settlements := make([]Settlement, 0, 5)
	for s := 0; s < 5; s++ {
		from := members[r.Intn(n)].ID
		to := members[r.Intn(n)].ID
		if from == to {
			continue
		}
		settlements = append(settlements, Settlement{
			ID: int64(s + 1), From: from, To: to, Amount: decimal.New(int64(1+r.Intn(5000)), -2),
		})
	}
	return members, expenses, settlements
}

func TestLedgerProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := 2 + r.Intn(6)
		members, expenses, settlements := randomLedger(r, n)

		first := ComputeBalances(members, expenses, settlements)
		second := ComputeBalances(members, expenses, settlements)

		if !WithinCent(first.Total(), decimal.Zero) {
			t.Fatalf("round %d: balances sum to %s", round, first.Total())
		}

		for i := range first.Members {
			if !first.Members[i].Net.Equal(second.Members[i].Net) {
				t.Fatalf("round %d: recomputation differs for member %d", round, first.Members[i].Member)
			}
		}

		transfers := SuggestSettlements(first.Members)

		nonZero := 0
		for _, b := range first.Members {
			if !b.Net.IsZero() {
				nonZero++
			}
		}
		if nonZero > 0 && len(transfers) > nonZero-1 {
			t.Fatalf("round %d: %d transfers for %d non-zero members", round, len(transfers), nonZero)
		}

		applied := make([]Settlement, len(settlements), len(settlements)+len(transfers))
		copy(applied, settlements)
		for _, tr := range transfers {
			if !tr.Amount.IsPositive() {
				t.Fatalf("round %d: non-positive transfer %+v", round, tr)
			}
			applied = append(applied, Settlement{From: tr.From, To: tr.To, Amount: tr.Amount})
		}

		closed := ComputeBalances(members, expenses, applied)
		for _, b := range closed.Members {
			if !WithinCent(b.Net, decimal.Zero) {
				t.Fatalf("round %d: member %d left at %s after applying suggestions", round, b.Member, b.Net)
			}
		}
	}
}
