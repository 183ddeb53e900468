package user

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/pkg/validation"
)

// Common errors
var (
	ErrUserNotFound         = ledger.NewError(ledger.ErrNotFound, "user not found")
	ErrEmailAlreadyInUse    = ledger.NewError(ledger.ErrConflict, "email already in use")
	ErrUserHasGroups        = ledger.NewError(ledger.ErrConflict, "user still belongs to a group")
	ErrInvalidPaymentHandle = ledger.NewError(ledger.ErrValidation, "payment handle must look like name@bank")
)

// Service handles user business logic
type Service struct {
	repo *Repository
}

// NewService creates a new user service with repository dependency injected
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// normalizeHandle trims and lower-cases a payment handle, rejecting malformed ones
func normalizeHandle(handle *string) (*string, error) {
	if handle == nil {
		return nil, nil
	}
	h := strings.ToLower(strings.TrimSpace(*handle))
	if !validation.IsPaymentHandle(h) {
		return nil, ErrInvalidPaymentHandle
	}
	return &h, nil
}

// Create creates a new user
func (s *Service) Create(ctx context.Context, req *CreateUserRequest) (*User, error) {
	handle, err := normalizeHandle(req.PaymentHandle)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyInUse
	}

	user, err := s.repo.Create(ctx, strings.TrimSpace(req.FullName), email, handle)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "user created", "user_id", user.ID)
	return user, nil
}

// GetByID retrieves a user by their ID
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// List retrieves all users with pagination
func (s *Service) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update modifies an existing user
func (s *Service) Update(ctx context.Context, id int64, req *UpdateUserRequest) (*User, error) {
	handle, err := normalizeHandle(req.PaymentHandle)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrUserNotFound
	}

	return s.repo.Update(ctx, id, req.FullName, handle)
}

// Delete removes a user who no longer belongs to any group
func (s *Service) Delete(ctx context.Context, id int64) error {
	groups, err := s.repo.CountGroups(ctx, id)
	if err != nil {
		return err
	}
	if groups > 0 {
		return ErrUserHasGroups
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}

// GetProfiles returns directory entries for the given members
func (s *Service) GetProfiles(ctx context.Context, ids []ledger.MemberID) (map[ledger.MemberID]ledger.Profile, error) {
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	users, err := s.repo.GetByIDs(ctx, raw)
	if err != nil {
		return nil, err
	}

	profiles := make(map[ledger.MemberID]ledger.Profile, len(users))
	for _, u := range users {
		p := ledger.Profile{FullName: u.FullName}
		if u.PaymentHandle != nil {
			p.PaymentHandle = *u.PaymentHandle
		}
		profiles[ledger.MemberID(u.ID)] = p
	}
	return profiles, nil
}
