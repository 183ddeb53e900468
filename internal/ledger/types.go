// Package ledger holds the pure balance math of a group: aggregating expenses
// and settlements into net balances, and turning net balances into a short
// list of suggested transfers. Nothing in this package performs I/O
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberID identifies a user inside a group ledger
type MemberID int64

// SplitType names how an expense is divided between its participants
type SplitType string

const (
	SplitTypeEqual      SplitType = "equal"
	SplitTypeExact      SplitType = "exact"
	SplitTypePercentage SplitType = "percentage"
)

// Valid reports whether t is one of the known split types
func (t SplitType) Valid() bool {
	switch t {
	case SplitTypeEqual, SplitTypeExact, SplitTypePercentage:
		return true
	}
	return false
}

// Member is a current member of a group, in join order
type Member struct {
	ID       MemberID
	FullName string
}

// SplitDetail is one participant's share of an expense
type SplitDetail struct {
	Member  MemberID
	Percent *decimal.Decimal
	Amount  decimal.Decimal
}

// Expense is the ledger view of a recorded expense
type Expense struct {
	ID           int64
	PaidBy       MemberID
	Amount       decimal.Decimal
	SplitType    SplitType
	SplitDetails []SplitDetail
}

// Settlement is the ledger view of a recorded payment from one member to another
type Settlement struct {
	ID        int64
	From      MemberID
	To        MemberID
	Amount    decimal.Decimal
	SettledAt time.Time
}

// NetBalance is a member's signed position: positive means the group owes
// them, negative means they owe the group
type NetBalance struct {
	Member   MemberID
	FullName string
	Net      decimal.Decimal
	// Former marks a member who is referenced by records but no longer in the group
	Former bool
}

// Transfer is a suggested payment
type Transfer struct {
	From   MemberID
	To     MemberID
	Amount decimal.Decimal
}

// Balances is the result of aggregating a group's ledger
type Balances struct {
	Members  []NetBalance
	byMember map[MemberID]decimal.Decimal
}

// Net returns the rounded net balance of id and whether id appears in the ledger
func (b Balances) Net(id MemberID) (decimal.Decimal, bool) {
	net, ok := b.byMember[id]
	return net, ok
}

// Owed returns how much id owes the group, or zero when id is not a debtor
func (b Balances) Owed(id MemberID) decimal.Decimal {
	net, ok := b.byMember[id]
	if !ok || !net.IsNegative() {
		return decimal.Zero
	}
	return Round2(net.Neg())
}

// Total returns the sum of all net balances. It is zero for a consistent ledger
func (b Balances) Total() decimal.Decimal {
	total := decimal.Zero
	for _, m := range b.Members {
		total = total.Add(m.Net)
	}
	return total
}

// Profile is the directory information shown next to a member's balance
type Profile struct {
	FullName      string
	PaymentHandle string
}
