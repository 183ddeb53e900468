package expense

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/expense/split"
	"github.com/fkhayef/settleup/internal/ledger"
)

// CreateExpenseRequest represents the request to create an expense
type CreateExpenseRequest struct {
	Description string          `json:"description" validate:"required,min=1,max=255"`
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0"`
	// PaidBy defaults to the caller
	PaidBy       *int64           `json:"paid_by,omitempty" validate:"omitempty,gt=0"`
	SplitType    ledger.SplitType `json:"split_type" validate:"required,oneof=equal exact percentage"`
	Participants []split.Input    `json:"participants" validate:"required,min=1"`
}

// UpdateExpenseRequest represents the request to update an expense. Changing
// the amount, payer, split type or participants recomputes the split
type UpdateExpenseRequest struct {
	Description  *string           `json:"description,omitempty" validate:"omitempty,min=1,max=255"`
	Amount       *decimal.Decimal  `json:"amount,omitempty" validate:"omitempty,gt=0"`
	PaidBy       *int64            `json:"paid_by,omitempty" validate:"omitempty,gt=0"`
	SplitType    *ledger.SplitType `json:"split_type,omitempty" validate:"omitempty,oneof=equal exact percentage"`
	Participants []split.Input     `json:"participants,omitempty" validate:"omitempty,min=1"`
}

func (r *UpdateExpenseRequest) resplits() bool {
	return r.Amount != nil || r.PaidBy != nil || r.SplitType != nil || r.Participants != nil
}

// ExpenseResponse represents the response for an expense
type ExpenseResponse struct {
	ID          int64            `json:"id"`
	GroupID     int64            `json:"group_id"`
	PaidBy      ledger.MemberID  `json:"paid_by"`
	PaidByName  string           `json:"paid_by_name,omitempty"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount" swaggertype:"number"`
	SplitType   ledger.SplitType `json:"split_type"`
	CreatedBy   int64            `json:"created_by"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
	Splits      []*SplitResponse `json:"splits"`
}

// SplitResponse represents one participant's share of an expense
type SplitResponse struct {
	MemberID ledger.MemberID  `json:"member_id"`
	Percent  *decimal.Decimal `json:"percent,omitempty" swaggertype:"number"`
	Amount   decimal.Decimal  `json:"amount" swaggertype:"number"`
}

// ToResponse converts an Expense model to an ExpenseResponse DTO
func (e *Expense) ToResponse() *ExpenseResponse {
	splits := make([]*SplitResponse, len(e.Splits))
	for i, d := range e.Splits {
		splits[i] = &SplitResponse{MemberID: d.Member, Percent: d.Percent, Amount: d.Amount}
	}

	return &ExpenseResponse{
		ID:          e.ID,
		GroupID:     e.GroupID,
		PaidBy:      e.PaidBy,
		PaidByName:  e.PaidByName,
		Description: e.Description,
		Amount:      e.Amount,
		SplitType:   e.SplitType,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339),
		Splits:      splits,
	}
}
