package group

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/internal/notification"
)

// Common errors
var (
	ErrGroupNotFound       = ledger.NewError(ledger.ErrNotFound, "group not found")
	ErrMemberNotFound      = ledger.NewError(ledger.ErrNotFound, "member not found")
	ErrUserNotFound        = ledger.NewError(ledger.ErrValidation, "user does not exist")
	ErrMemberAlreadyExists = ledger.NewError(ledger.ErrConflict, "user is already a member of this group")
	ErrNotMember           = ledger.NewError(ledger.ErrForbidden, "not a member of this group")
	ErrNotAdmin            = ledger.NewError(ledger.ErrForbidden, "only the group admin can perform this action")
	ErrCannotRemoveAdmin   = ledger.NewError(ledger.ErrForbidden, "the group admin cannot be removed")
	ErrOpenBalance         = ledger.NewError(ledger.ErrConflict, "member still has an open balance in this group")
	ErrStaleLedger         = ledger.NewError(ledger.ErrConflict, "group ledger changed concurrently")
)

// maxRemoveAttempts bounds the balance-check-delete loop of RemoveMember
const maxRemoveAttempts = 3

// ExpenseSource lists the ledger view of a group's expenses
type ExpenseSource interface {
	ListLedgerExpenses(ctx context.Context, groupID int64) ([]ledger.Expense, error)
}

// SettlementSource lists the ledger view of a group's settlements
type SettlementSource interface {
	ListLedgerSettlements(ctx context.Context, groupID int64) ([]ledger.Settlement, error)
}

// Notifier queues a notification for delivery
type Notifier interface {
	Notify(ctx context.Context, e notification.Event)
}

// Service handles group business logic
type Service struct {
	repo        *Repository
	expenses    ExpenseSource
	settlements SettlementSource
	notifier    Notifier
}

// NewService creates a new group service
func NewService(repo *Repository, expenses ExpenseSource, settlements SettlementSource, notifier Notifier) *Service {
	return &Service{
		repo:        repo,
		expenses:    expenses,
		settlements: settlements,
		notifier:    notifier,
	}
}

// Create creates a new group and adds the creator as admin
func (s *Service) Create(ctx context.Context, creatorID int64, req *CreateGroupRequest) (*Group, error) {
	group, err := s.repo.Create(ctx, creatorID, req)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "group created", "group_id", group.ID, "created_by", creatorID)
	return group, nil
}

// GetGroup retrieves a group by its ID
func (s *Service) GetGroup(ctx context.Context, id int64) (*Group, error) {
	group, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// membership returns the caller's membership, failing when the group is
// missing or the caller has no membership row at all
func (s *Service) membership(ctx context.Context, groupID, userID int64) (*GroupMember, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	member, err := s.repo.GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotMember
	}
	return member, nil
}

// RequireMember fails unless userID is a joined member of the group
func (s *Service) RequireMember(ctx context.Context, groupID, userID int64) error {
	member, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member.IsCurrent() {
		return ErrNotMember
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, groupID, userID int64) error {
	member, err := s.membership(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !member.IsCurrent() || member.Role != MemberRoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

// GetByIDWithMembers retrieves a group with all its members. Invited users
// may look at the group they were invited to
func (s *Service) GetByIDWithMembers(ctx context.Context, id, callerID int64) (*Group, []*GroupMember, error) {
	if _, err := s.membership(ctx, id, callerID); err != nil {
		return nil, nil, err
	}

	group, err := s.GetGroup(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	members, err := s.repo.GetMembers(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return group, members, nil
}

// ListByUserID retrieves a page of the groups a user belongs to
func (s *Service) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Group, int, error) {
	return s.repo.ListByUserID(ctx, userID, limit, offset)
}

// Update modifies an existing group
func (s *Service) Update(ctx context.Context, id, callerID int64, req *UpdateGroupRequest) (*Group, error) {
	if err := s.requireAdmin(ctx, id, callerID); err != nil {
		return nil, err
	}

	group, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// Delete removes a group together with its whole ledger
func (s *Service) Delete(ctx context.Context, id, callerID int64) error {
	if err := s.requireAdmin(ctx, id, callerID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "group deleted", "group_id", id, "deleted_by", callerID)
	return nil
}

// AddMember invites a user to a group. Any joined member may invite; only
// the admin may hand out the admin role
func (s *Service) AddMember(ctx context.Context, groupID, callerID int64, req *AddMemberRequest) (*GroupMember, error) {
	caller, err := s.membership(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	if !caller.IsCurrent() {
		return nil, ErrNotMember
	}

	role := req.Role
	if role == "" {
		role = MemberRoleMember
	}
	if role == MemberRoleAdmin && caller.Role != MemberRoleAdmin {
		return nil, ErrNotAdmin
	}

	exists, err := s.repo.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	existing, err := s.repo.GetMember(ctx, groupID, req.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrMemberAlreadyExists
	}

	member, err := s.repo.AddMember(ctx, groupID, req.UserID, role)
	if err != nil {
		return nil, err
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, notification.NewEvent(
		notification.TypeGroupInvite,
		req.UserID,
		caller.FullName+" invited you to join "+group.Name,
	).About(groupID, notification.EntityGroup, groupID))

	slog.InfoContext(ctx, "member invited", "group_id", groupID, "user_id", req.UserID, "invited_by", callerID)
	return member, nil
}

// GetMembers retrieves all members of a group
func (s *Service) GetMembers(ctx context.Context, groupID, callerID int64) ([]*GroupMember, error) {
	if _, err := s.membership(ctx, groupID, callerID); err != nil {
		return nil, err
	}
	return s.repo.GetMembers(ctx, groupID)
}

// ListCurrentMembers returns the joined members of a group in join order
func (s *Service) ListCurrentMembers(ctx context.Context, groupID int64) ([]ledger.Member, error) {
	members, err := s.repo.GetMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	current := make([]ledger.Member, 0, len(members))
	for _, m := range members {
		if m.IsCurrent() {
			current = append(current, ledger.Member{ID: ledger.MemberID(m.UserID), FullName: m.FullName})
		}
	}
	return current, nil
}

// LedgerVersion returns the current ledger version of a group
func (s *Service) LedgerVersion(ctx context.Context, groupID int64) (int64, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return group.LedgerVersion, nil
}

// UpdateMember changes the role of a member
func (s *Service) UpdateMember(ctx context.Context, groupID, callerID, userID int64, req *UpdateMemberRequest) (*GroupMember, error) {
	if err := s.requireAdmin(ctx, groupID, callerID); err != nil {
		return nil, err
	}

	member, err := s.repo.GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}

	updated, err := s.repo.UpdateMember(ctx, groupID, userID, member.Status, req.Role)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrMemberNotFound
	}
	return updated, nil
}

// RemoveMember removes a user from a group. The admin may remove anyone but
// themself; other members may only leave. Removal is refused while the
// member still owes or is owed money in the group
func (s *Service) RemoveMember(ctx context.Context, groupID, callerID, userID int64) error {
	caller, err := s.membership(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if callerID != userID && (caller.Role != MemberRoleAdmin || !caller.IsCurrent()) {
		return ErrNotAdmin
	}

	target, err := s.repo.GetMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrMemberNotFound
	}
	if target.Role == MemberRoleAdmin {
		return ErrCannotRemoveAdmin
	}

	for attempt := 1; attempt <= maxRemoveAttempts; attempt++ {
		snap, err := ReadSnapshot(ctx, groupID, s, s.expenses, s.settlements)
		if err != nil {
			return err
		}
		if net, ok := snap.Balances.Net(ledger.MemberID(userID)); ok && !net.IsZero() {
			slog.WarnContext(ctx, "member removal refused",
				"group_id", groupID,
				"user_id", userID,
				"net", net.StringFixed(2),
			)
			return ErrOpenBalance
		}

		err = s.repo.RemoveMember(ctx, groupID, userID, snap.Version)
		if errors.Is(err, ErrStaleLedger) {
			slog.WarnContext(ctx, "ledger changed while removing member",
				"group_id", groupID,
				"user_id", userID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return err
		}

		slog.InfoContext(ctx, "member removed", "group_id", groupID, "user_id", userID, "removed_by", callerID)
		return nil
	}

	return ErrStaleLedger
}

// AcceptInvitation allows a user to accept their group invitation
func (s *Service) AcceptInvitation(ctx context.Context, groupID, userID int64) (*GroupMember, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	member, err := s.repo.GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}
	if member.Status != MemberStatusInvited {
		return member, nil // already joined
	}

	joined, err := s.repo.UpdateMember(ctx, groupID, userID, MemberStatusJoined, member.Role)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "invitation accepted", "group_id", groupID, "user_id", userID)
	return joined, nil
}
