package expense

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/expense/split"
	"github.com/fkhayef/settleup/internal/ledger"
)

// Expense represents an expense in the system
type Expense struct {
	ID          int64
	GroupID     int64
	PaidBy      ledger.MemberID
	Description string
	Amount      decimal.Decimal
	SplitType   ledger.SplitType
	Splits      []ledger.SplitDetail
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Populated via JOIN
	PaidByName string
}

// Ledger returns the view of the expense used for balance computation
func (e *Expense) Ledger() ledger.Expense {
	return ledger.Expense{
		ID:           e.ID,
		PaidBy:       e.PaidBy,
		Amount:       e.Amount,
		SplitType:    e.SplitType,
		SplitDetails: e.Splits,
	}
}

// participants rebuilds split inputs from the stored split, so an expense
// can be re-split with a new amount or type
func (e *Expense) participants() []split.Input {
	inputs := make([]split.Input, len(e.Splits))
	for i, d := range e.Splits {
		amount := d.Amount
		inputs[i] = split.Input{Member: d.Member, Percent: d.Percent, Amount: &amount}
	}
	return inputs
}

// canModify reports whether userID created or paid the expense
func (e *Expense) canModify(userID int64) bool {
	return e.CreatedBy == userID || int64(e.PaidBy) == userID
}
