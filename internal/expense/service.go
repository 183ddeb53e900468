package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fkhayef/settleup/internal/expense/split"
	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/internal/metrics"
	"github.com/fkhayef/settleup/internal/notification"
)

// Common errors
var (
	ErrExpenseNotFound    = ledger.NewError(ledger.ErrNotFound, "expense not found")
	ErrNotOwner           = ledger.NewError(ledger.ErrForbidden, "only the creator or payer can change this expense")
	ErrPayerNotMember     = ledger.NewError(ledger.ErrValidation, "payer is not a member of this group")
	ErrParticipantMissing = ledger.NewError(ledger.ErrValidation, "every participant must be a member of this group")
	ErrConcurrentUpdate   = ledger.NewError(ledger.ErrConflict, "group membership kept changing, please retry")
)

// maxWriteAttempts bounds the membership-check-write loop of expense writes
const maxWriteAttempts = 3

// GroupDirectory answers membership questions about a group
type GroupDirectory interface {
	RequireMember(ctx context.Context, groupID, userID int64) error
	ListCurrentMembers(ctx context.Context, groupID int64) ([]ledger.Member, error)
	LedgerVersion(ctx context.Context, groupID int64) (int64, error)
}

// Notifier queues a notification for delivery
type Notifier interface {
	Notify(ctx context.Context, e notification.Event)
}

// Service handles expense business logic
type Service struct {
	repo         *Repository
	groups       GroupDirectory
	splitFactory *split.Factory
	notifier     Notifier
	metrics      *metrics.Metrics
}

// NewService creates a new expense service with dependencies injected
func NewService(repo *Repository, groups GroupDirectory, splitFactory *split.Factory, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		repo:         repo,
		groups:       groups,
		splitFactory: splitFactory,
		notifier:     notifier,
		metrics:      m,
	}
}

// resolveSplit checks the payer and participants against the current
// members and computes the split. It returns the ledger version read before
// the member list, which the write must still find in place
func (s *Service) resolveSplit(ctx context.Context, e *Expense, participants []split.Input) (int64, error) {
	version, err := s.groups.LedgerVersion(ctx, e.GroupID)
	if err != nil {
		return 0, err
	}
	members, err := s.groups.ListCurrentMembers(ctx, e.GroupID)
	if err != nil {
		return 0, err
	}
	names := make(map[ledger.MemberID]string, len(members))
	for _, m := range members {
		names[m.ID] = m.FullName
	}

	name, ok := names[e.PaidBy]
	if !ok {
		return 0, ErrPayerNotMember
	}
	e.PaidByName = name
	for _, p := range participants {
		if _, ok := names[p.Member]; !ok {
			return 0, fmt.Errorf("%w: member %d", ErrParticipantMissing, p.Member)
		}
	}

	e.Amount = ledger.Round2(e.Amount)
	details, err := s.splitFactory.Calculate(e.SplitType, e.Amount, participants)
	if err != nil {
		return 0, err
	}
	e.Splits = details
	return version, nil
}

// writeResolved resolves the split and writes it, retrying when a member
// change lands between the membership check and the write
func (s *Service) writeResolved(ctx context.Context, e *Expense, participants []split.Input, write func(expectedVersion *int64) error) error {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		version, err := s.resolveSplit(ctx, e, participants)
		if err != nil {
			return err
		}
		err = write(&version)
		if errors.Is(err, group.ErrStaleLedger) {
			slog.WarnContext(ctx, "ledger changed while writing expense",
				"group_id", e.GroupID,
				"attempt", attempt,
			)
			continue
		}
		return err
	}
	return ErrConcurrentUpdate
}

// CreateExpense records a new expense in a group, splitting it with the
// requested strategy
func (s *Service) CreateExpense(ctx context.Context, groupID, callerID int64, req *CreateExpenseRequest) (*Expense, error) {
	if err := s.groups.RequireMember(ctx, groupID, callerID); err != nil {
		return nil, err
	}

	paidBy := callerID
	if req.PaidBy != nil {
		paidBy = *req.PaidBy
	}

	expense := &Expense{
		GroupID:     groupID,
		PaidBy:      ledger.MemberID(paidBy),
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		SplitType:   req.SplitType,
		CreatedBy:   callerID,
	}
	err := s.writeResolved(ctx, expense, req.Participants, func(expectedVersion *int64) error {
		return s.repo.Create(ctx, expense, expectedVersion)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ExpensesWritten.WithLabelValues("create").Inc()

	slog.InfoContext(ctx, "expense created",
		"group_id", groupID,
		"expense_id", expense.ID,
		"amount", expense.Amount.StringFixed(2),
		"split_type", expense.SplitType,
	)

	for _, d := range expense.Splits {
		if int64(d.Member) == callerID {
			continue
		}
		msg := fmt.Sprintf("%s added %q (%s). Your share: %s",
			expense.PaidByName, expense.Description, expense.Amount.StringFixed(2), d.Amount.StringFixed(2))
		s.notifier.Notify(ctx, notification.NewEvent(notification.TypeExpenseAdded, int64(d.Member), msg).
			About(groupID, notification.EntityExpense, expense.ID))
	}

	return expense, nil
}

// GetExpense retrieves an expense visible to the caller
func (s *Service) GetExpense(ctx context.Context, id, callerID int64) (*Expense, error) {
	expense, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, ErrExpenseNotFound
	}

	if err := s.groups.RequireMember(ctx, expense.GroupID, callerID); err != nil {
		return nil, err
	}
	return expense, nil
}

// ListByGroup retrieves a page of a group's expenses
func (s *Service) ListByGroup(ctx context.Context, groupID, callerID int64, limit, offset int) ([]*Expense, int, error) {
	if err := s.groups.RequireMember(ctx, groupID, callerID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByGroup(ctx, groupID, limit, offset)
}

// UpdateExpense changes an expense. Only its creator or payer may do so
func (s *Service) UpdateExpense(ctx context.Context, id, callerID int64, req *UpdateExpenseRequest) (*Expense, error) {
	expense, err := s.GetExpense(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if !expense.canModify(callerID) {
		return nil, ErrNotOwner
	}

	if req.Description != nil {
		expense.Description = strings.TrimSpace(*req.Description)
	}
	if req.resplits() {
		participants := req.Participants
		if participants == nil {
			participants = expense.participants()
		}
		if req.Amount != nil {
			expense.Amount = *req.Amount
		}
		if req.PaidBy != nil {
			expense.PaidBy = ledger.MemberID(*req.PaidBy)
		}
		if req.SplitType != nil {
			expense.SplitType = *req.SplitType
		}
		err = s.writeResolved(ctx, expense, participants, func(expectedVersion *int64) error {
			return s.repo.Update(ctx, expense, expectedVersion)
		})
	} else {
		err = s.repo.Update(ctx, expense, nil)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.ExpensesWritten.WithLabelValues("update").Inc()

	slog.InfoContext(ctx, "expense updated", "group_id", expense.GroupID, "expense_id", id)
	return expense, nil
}

// DeleteExpense removes an expense. Only its creator or payer may do so
func (s *Service) DeleteExpense(ctx context.Context, id, callerID int64) error {
	expense, err := s.GetExpense(ctx, id, callerID)
	if err != nil {
		return err
	}
	if !expense.canModify(callerID) {
		return ErrNotOwner
	}

	if err := s.repo.Delete(ctx, id, expense.GroupID); err != nil {
		return err
	}
	s.metrics.ExpensesWritten.WithLabelValues("delete").Inc()

	slog.InfoContext(ctx, "expense deleted", "group_id", expense.GroupID, "expense_id", id)
	return nil
}
