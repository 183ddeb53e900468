package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/internal/metrics"
	"github.com/fkhayef/settleup/internal/notification"
)

// maxRecordAttempts bounds the read-check-write loop of RecordSettlement
const maxRecordAttempts = 3

// Common errors
var (
	ErrSelfSettlement    = ledger.NewError(ledger.ErrValidation, "from and to must be different members")
	ErrNotPayer          = ledger.NewError(ledger.ErrForbidden, "only the payer can record their own payment")
	ErrReceiverNotMember = ledger.NewError(ledger.ErrValidation, "receiver is not a member of this group")
	ErrAmountPrecision   = ledger.NewError(ledger.ErrValidation, "amount must have at most two decimal places")
	ErrNonPositive       = ledger.NewError(ledger.ErrValidation, "amount must be greater than zero")
	ErrNotDebtor         = ledger.NewError(ledger.ErrValidation, "you do not owe anything in this group")
	ErrNotCreditor       = ledger.NewError(ledger.ErrValidation, "that member is not owed anything in this group")
	ErrConcurrentUpdate  = ledger.NewError(ledger.ErrConflict, "group ledger kept changing, please retry")
)

// GroupDirectory answers questions about a group and its members
type GroupDirectory interface {
	GetGroup(ctx context.Context, groupID int64) (*group.Group, error)
	RequireMember(ctx context.Context, groupID, userID int64) error
	ListCurrentMembers(ctx context.Context, groupID int64) ([]ledger.Member, error)
	LedgerVersion(ctx context.Context, groupID int64) (int64, error)
}

// ProfileDirectory looks up display details of members
type ProfileDirectory interface {
	GetProfiles(ctx context.Context, ids []ledger.MemberID) (map[ledger.MemberID]ledger.Profile, error)
}

// ExpenseStore lists the ledger view of a group's expenses
type ExpenseStore interface {
	ListLedgerExpenses(ctx context.Context, groupID int64) ([]ledger.Expense, error)
}

// SettlementStore persists settlements
type SettlementStore interface {
	ListLedgerSettlements(ctx context.Context, groupID int64) ([]ledger.Settlement, error)
	ListByGroup(ctx context.Context, groupID int64, limit, offset int) ([]*Settlement, int, error)
	AppendWithVersion(ctx context.Context, s *Settlement, expectedVersion int64) error
}

// Notifier queues a notification for delivery
type Notifier interface {
	Notify(ctx context.Context, e notification.Event)
}

// Service computes group balances and records settlements
type Service struct {
	groups      GroupDirectory
	profiles    ProfileDirectory
	expenses    ExpenseStore
	settlements SettlementStore
	notifier    Notifier
	metrics     *metrics.Metrics
}

// NewService creates a new settlement service
func NewService(groups GroupDirectory, profiles ProfileDirectory, expenses ExpenseStore, settlements SettlementStore, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		groups:      groups,
		profiles:    profiles,
		expenses:    expenses,
		settlements: settlements,
		notifier:    notifier,
		metrics:     m,
	}
}

// memberSnapshot reads the ledger and checks that callerID is a current member
func (s *Service) memberSnapshot(ctx context.Context, groupID, callerID int64) (*group.Snapshot, error) {
	snap, err := group.ReadSnapshot(ctx, groupID, s.groups, s.expenses, s.settlements)
	if err != nil {
		return nil, err
	}
	if !snap.IsMember(ledger.MemberID(callerID)) {
		return nil, group.ErrNotMember
	}
	return snap, nil
}

// groupBalances copies the balances of snap, taking the names of members who
// have left the group from the profile directory
func (s *Service) groupBalances(ctx context.Context, groupID int64, snap *group.Snapshot) (*GroupBalances, error) {
	members := make([]ledger.NetBalance, len(snap.Balances.Members))
	copy(members, snap.Balances.Members)

	var unnamed []ledger.MemberID
	for _, b := range members {
		if b.FullName == "" {
			unnamed = append(unnamed, b.Member)
		}
	}
	if len(unnamed) > 0 {
		profiles, err := s.profiles.GetProfiles(ctx, unnamed)
		if err != nil {
			return nil, err
		}
		for i := range members {
			if members[i].FullName == "" {
				members[i].FullName = profiles[members[i].Member].FullName
			}
		}
	}

	byMember := make(map[ledger.MemberID]decimal.Decimal, len(members))
	for _, b := range members {
		byMember[b.Member] = b.Net
	}
	return &GroupBalances{
		GroupID:  groupID,
		Members:  members,
		ByMember: byMember,
	}, nil
}

// ComputeBalances returns the net balance of every member of a group
func (s *Service) ComputeBalances(ctx context.Context, groupID, callerID int64) (*GroupBalances, error) {
	snap, err := s.memberSnapshot(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	return s.groupBalances(ctx, groupID, snap)
}

// SuggestSettlements returns the balances of a group together with the
// transfers that would bring every member to zero
func (s *Service) SuggestSettlements(ctx context.Context, groupID, callerID int64) (*Suggestions, error) {
	snap, err := s.memberSnapshot(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	balances, err := s.groupBalances(ctx, groupID, snap)
	if err != nil {
		return nil, err
	}

	transfers := ledger.SuggestSettlements(balances.Members)

	names := make(map[ledger.MemberID]string, len(balances.Members))
	creditors := make([]ledger.MemberID, 0)
	for _, b := range balances.Members {
		names[b.Member] = b.FullName
		if b.Net.IsPositive() {
			creditors = append(creditors, b.Member)
		}
	}

	var profiles map[ledger.MemberID]ledger.Profile
	if len(transfers) > 0 {
		profiles, err = s.profiles.GetProfiles(ctx, creditors)
		if err != nil {
			return nil, err
		}
	}

	suggestions := make([]Suggestion, len(transfers))
	for i, t := range transfers {
		suggestions[i] = Suggestion{
			From:            t.From,
			FromName:        names[t.From],
			To:              t.To,
			ToName:          names[t.To],
			ToPaymentHandle: profiles[t.To].PaymentHandle,
			Amount:          t.Amount,
		}
	}

	return &Suggestions{
		GroupID:     groupID,
		Balances:    balances,
		Suggestions: suggestions,
	}, nil
}

// RecordSettlement persists a payment the caller made to another member.
//
// The amount may not exceed what the payer currently owes. The check and the
// write are tied together by the group ledger version: when another write
// lands in between, the whole read-check-write is retried, and
// ErrConcurrentUpdate is returned once the attempts run out
func (s *Service) RecordSettlement(ctx context.Context, groupID, callerID int64, req *RecordSettlementRequest) (*Settlement, error) {
	from, to := ledger.MemberID(req.From), ledger.MemberID(req.To)
	amount := req.Amount

	if !amount.IsPositive() {
		return nil, ErrNonPositive
	}
	if !ledger.Round2(amount).Equal(amount) {
		return nil, ErrAmountPrecision
	}
	if from == to {
		return nil, ErrSelfSettlement
	}
	if req.From != callerID {
		return nil, ErrNotPayer
	}

	for attempt := 1; attempt <= maxRecordAttempts; attempt++ {
		snap, err := s.memberSnapshot(ctx, groupID, callerID)
		if err != nil {
			return nil, err
		}
		if !snap.IsMember(to) {
			return nil, ErrReceiverNotMember
		}

		owed := snap.Balances.Owed(from)
		if amount.GreaterThan(owed) {
			s.metrics.Overpayments.Inc()
			slog.WarnContext(ctx, "settlement exceeds debt",
				"group_id", groupID,
				"from", from,
				"amount", amount.StringFixed(2),
				"max_payable", owed.StringFixed(2),
			)
			return nil, &ledger.OverpaymentError{
				GroupID:    groupID,
				Member:     from,
				Requested:  amount,
				MaxPayable: owed,
			}
		}

		settlement := &Settlement{GroupID: groupID, From: from, To: to, Amount: amount}
		err = s.settlements.AppendWithVersion(ctx, settlement, snap.Version)
		if errors.Is(err, group.ErrStaleLedger) {
			s.metrics.SettlementRetries.Inc()
			slog.WarnContext(ctx, "ledger changed while recording settlement",
				"group_id", groupID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.SettlementsRecorded.Inc()
		s.notifySettlement(ctx, snap, settlement)

		slog.InfoContext(ctx, "settlement recorded",
			"group_id", groupID,
			"settlement_id", settlement.ID,
			"from", from,
			"to", to,
			"amount", amount.StringFixed(2),
		)
		return settlement, nil
	}

	return nil, ErrConcurrentUpdate
}

func (s *Service) notifySettlement(ctx context.Context, snap *group.Snapshot, settlement *Settlement) {
	settlement.FromName = snap.MemberName(settlement.From)
	settlement.ToName = snap.MemberName(settlement.To)

	groupName := s.groupName(ctx, settlement.GroupID)
	amount := settlement.Amount.StringFixed(2)

	s.notifier.Notify(ctx, notification.NewEvent(
		notification.TypeSettlementReceived,
		int64(settlement.To),
		fmt.Sprintf("%s paid you %s in %s", settlement.FromName, amount, groupName),
	).About(settlement.GroupID, notification.EntitySettlement, settlement.ID))

	s.notifier.Notify(ctx, notification.NewEvent(
		notification.TypeSettlementRecorded,
		int64(settlement.From),
		fmt.Sprintf("Your payment of %s to %s in %s was recorded", amount, settlement.ToName, groupName),
	).About(settlement.GroupID, notification.EntitySettlement, settlement.ID))
}

func (s *Service) groupName(ctx context.Context, groupID int64) string {
	g, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load group for notification", "group_id", groupID, "error", err)
		return "your group"
	}
	return g.Name
}

// ListSettlements returns a page of the settlements recorded in a group, newest first
func (s *Service) ListSettlements(ctx context.Context, groupID, callerID int64, limit, offset int) ([]*Settlement, int, error) {
	if err := s.groups.RequireMember(ctx, groupID, callerID); err != nil {
		return nil, 0, err
	}
	return s.settlements.ListByGroup(ctx, groupID, limit, offset)
}

// RequestPaymentDetails lets a member who owes money ask a creditor how they
// want to be paid
func (s *Service) RequestPaymentDetails(ctx context.Context, groupID, callerID int64, req *PaymentDetailsRequest) error {
	if !req.Amount.IsPositive() {
		return ErrNonPositive
	}
	if req.To == callerID {
		return ErrSelfSettlement
	}

	snap, err := s.memberSnapshot(ctx, groupID, callerID)
	if err != nil {
		return err
	}

	caller, to := ledger.MemberID(callerID), ledger.MemberID(req.To)
	if !snap.IsMember(to) {
		return ErrReceiverNotMember
	}
	if net, _ := snap.Balances.Net(caller); !net.IsNegative() {
		return ErrNotDebtor
	}
	if net, _ := snap.Balances.Net(to); !net.IsPositive() {
		return ErrNotCreditor
	}

	callerName := snap.MemberName(caller)

	s.notifier.Notify(ctx, notification.NewEvent(
		notification.TypePaymentDetailsRequest,
		req.To,
		fmt.Sprintf("%s wants to pay you %s in %s and asked for your payment details",
			callerName, ledger.Round2(req.Amount).StringFixed(2), s.groupName(ctx, groupID)),
	).About(groupID, notification.EntityGroup, groupID))

	slog.InfoContext(ctx, "payment details requested", "group_id", groupID, "from", callerID, "to", req.To)
	return nil
}
