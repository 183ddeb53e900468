package settlement

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/ledger"
)

// RecordSettlementRequest represents a payment the caller made to another member
type RecordSettlementRequest struct {
	From   int64           `json:"from" validate:"required,gt=0"`
	To     int64           `json:"to" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0" swaggertype:"number"`
}

// PaymentDetailsRequest asks a creditor to share how they want to be paid
type PaymentDetailsRequest struct {
	To     int64           `json:"to" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0" swaggertype:"number"`
}

// SettlementResponse represents the response for a settlement
type SettlementResponse struct {
	ID        int64           `json:"id"`
	GroupID   int64           `json:"group_id"`
	From      ledger.MemberID `json:"from"`
	FromName  string          `json:"from_name,omitempty"`
	To        ledger.MemberID `json:"to"`
	ToName    string          `json:"to_name,omitempty"`
	Amount    decimal.Decimal `json:"amount" swaggertype:"number"`
	SettledAt string          `json:"settled_at"`
}

// MemberBalanceResponse is one member's net position
type MemberBalanceResponse struct {
	MemberID ledger.MemberID `json:"member_id"`
	FullName string          `json:"full_name"`
	Net      decimal.Decimal `json:"net" swaggertype:"number"`
	Former   bool            `json:"former,omitempty"`
}

// BalancesResponse represents the balances of a group
type BalancesResponse struct {
	GroupID    int64                      `json:"group_id"`
	Members    []*MemberBalanceResponse   `json:"members"`
	ByMemberID map[string]decimal.Decimal `json:"by_member_id" swaggertype:"object,number"`
}

// SuggestionResponse represents a suggested transfer
type SuggestionResponse struct {
	From            ledger.MemberID `json:"from"`
	FromName        string          `json:"from_name"`
	To              ledger.MemberID `json:"to"`
	ToName          string          `json:"to_name"`
	ToPaymentHandle string          `json:"to_payment_handle,omitempty"`
	Amount          decimal.Decimal `json:"amount" swaggertype:"number"`
}

// SuggestionsResponse represents the balances of a group with the transfers that settle it
type SuggestionsResponse struct {
	Balances    *BalancesResponse     `json:"balances"`
	Suggestions []*SuggestionResponse `json:"suggestions"`
}

// ToResponse converts a Settlement model to a SettlementResponse DTO
func (s *Settlement) ToResponse() *SettlementResponse {
	return &SettlementResponse{
		ID:        s.ID,
		GroupID:   s.GroupID,
		From:      s.From,
		FromName:  s.FromName,
		To:        s.To,
		ToName:    s.ToName,
		Amount:    s.Amount,
		SettledAt: s.SettledAt.UTC().Format(time.RFC3339),
	}
}

// ToResponse converts GroupBalances to a BalancesResponse DTO
func (b *GroupBalances) ToResponse() *BalancesResponse {
	members := make([]*MemberBalanceResponse, len(b.Members))
	byMember := make(map[string]decimal.Decimal, len(b.ByMember))
	for i, m := range b.Members {
		members[i] = &MemberBalanceResponse{
			MemberID: m.Member,
			FullName: m.FullName,
			Net:      m.Net,
			Former:   m.Former,
		}
		byMember[strconv.FormatInt(int64(m.Member), 10)] = m.Net
	}
	return &BalancesResponse{
		GroupID:    b.GroupID,
		Members:    members,
		ByMemberID: byMember,
	}
}

// ToResponse converts Suggestions to a SuggestionsResponse DTO
func (s *Suggestions) ToResponse() *SuggestionsResponse {
	suggestions := make([]*SuggestionResponse, len(s.Suggestions))
	for i, sg := range s.Suggestions {
		suggestions[i] = &SuggestionResponse{
			From:            sg.From,
			FromName:        sg.FromName,
			To:              sg.To,
			ToName:          sg.ToName,
			ToPaymentHandle: sg.ToPaymentHandle,
			Amount:          sg.Amount,
		}
	}
	return &SuggestionsResponse{
		Balances:    s.Balances.ToResponse(),
		Suggestions: suggestions,
	}
}
