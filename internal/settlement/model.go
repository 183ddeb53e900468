package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/ledger"
)

// Settlement is a recorded payment from one group member to another
type Settlement struct {
	ID        int64
	GroupID   int64
	From      ledger.MemberID
	To        ledger.MemberID
	Amount    decimal.Decimal
	SettledAt time.Time
	CreatedAt time.Time

	// Populated via JOIN
	FromName string
	ToName   string
}

// Ledger returns the view of the settlement used for balance computation
func (s *Settlement) Ledger() ledger.Settlement {
	return ledger.Settlement{
		ID:        s.ID,
		From:      s.From,
		To:        s.To,
		Amount:    s.Amount,
		SettledAt: s.SettledAt,
	}
}

// GroupBalances is the net position of every member of a group
type GroupBalances struct {
	GroupID  int64
	Members  []ledger.NetBalance
	ByMember map[ledger.MemberID]decimal.Decimal
}

// Suggestion is a proposed transfer with the details needed to pay it
type Suggestion struct {
	From            ledger.MemberID
	FromName        string
	To              ledger.MemberID
	ToName          string
	ToPaymentHandle string
	Amount          decimal.Decimal
}

// Suggestions is the set of transfers that would settle a group
type Suggestions struct {
	GroupID     int64
	Balances    *GroupBalances
	Suggestions []Suggestion
}
