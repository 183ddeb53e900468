package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fkhayef/settleup/internal/database"
)

// Repository handles group data persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new group repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const groupColumns = `id, name, description, is_temporary, created_by, ledger_version, created_at`

const memberColumns = `gm.id, gm.group_id, gm.user_id, gm.status, gm.role, gm.joined_at, u.full_name, u.email`

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*Group, error) {
	group := &Group{}
	var description sql.NullString
	if err := row.Scan(
		&group.ID,
		&group.Name,
		&description,
		&group.IsTemporary,
		&group.CreatedBy,
		&group.LedgerVersion,
		&group.CreatedAt,
	); err != nil {
		return nil, err
	}
	if description.Valid {
		group.Description = &description.String
	}
	return group, nil
}

func scanMember(row scanner) (*GroupMember, error) {
	member := &GroupMember{}
	var status, role string
	if err := row.Scan(
		&member.ID,
		&member.GroupID,
		&member.UserID,
		&status,
		&role,
		&member.JoinedAt,
		&member.FullName,
		&member.Email,
	); err != nil {
		return nil, err
	}
	member.Status = MemberStatus(status)
	member.Role = MemberRole(role)
	return member, nil
}

// Create inserts a new group and its creator as a joined admin in one transaction
func (r *Repository) Create(ctx context.Context, creatorID int64, req *CreateGroupRequest) (*Group, error) {
	now := time.Now().UTC()
	group := &Group{
		Name:        req.Name,
		Description: req.Description,
		IsTemporary: req.IsTemporary,
		CreatedBy:   creatorID,
		CreatedAt:   now,
	}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO groups (name, description, is_temporary, created_by, ledger_version, created_at)
			VALUES ($1, $2, $3, $4, 0, $5)
			RETURNING id
		`
		if err := tx.QueryRowContext(ctx, query, req.Name, req.Description, req.IsTemporary, creatorID, now).Scan(&group.ID); err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, status, role, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, group.ID, creatorID, string(MemberStatusJoined), string(MemberRoleAdmin), now)
		if err != nil {
			return fmt.Errorf("failed to add group admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return group, nil
}

// GetByID retrieves a group by its ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`

	group, err := scanGroup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	return group, nil
}

// ListByUserID retrieves the groups a user is a member of, newest first
func (r *Repository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Group, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM group_members WHERE user_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count groups: %w", err)
	}

	query := `
		SELECT g.id, g.name, g.description, g.is_temporary, g.created_by, g.ledger_version, g.created_at
		FROM groups g
		JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC, g.id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", err)
	}

	return groups, total, nil
}

// Update modifies the name and description of a group
func (r *Repository) Update(ctx context.Context, id int64, req *UpdateGroupRequest) (*Group, error) {
	query := `
		UPDATE groups
		SET name = COALESCE($2, name),
		    description = COALESCE($3, description)
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, req.Name, req.Description); err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}

	return r.GetByID(ctx, id)
}

// Delete removes a group; members, expenses and settlements go with it
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrGroupNotFound
	}

	return nil
}

// AddMember invites a user to a group
func (r *Repository) AddMember(ctx context.Context, groupID, userID int64, role MemberRole) (*GroupMember, error) {
	query := `
		INSERT INTO group_members (group_id, user_id, status, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, groupID, userID, string(MemberStatusInvited), string(role), time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrMemberAlreadyExists
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return r.GetMember(ctx, groupID, userID)
}

// GetMembers retrieves all members of a group in join order
func (r *Repository) GetMembers(ctx context.Context, groupID int64) ([]*GroupMember, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at, gm.id
	`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	members := make([]*GroupMember, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	return members, nil
}

// GetMember retrieves a specific member from a group
func (r *Repository) GetMember(ctx context.Context, groupID, userID int64) (*GroupMember, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1 AND gm.user_id = $2
	`

	member, err := scanMember(r.db.QueryRowContext(ctx, query, groupID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// UpdateMember sets a member's status and role
func (r *Repository) UpdateMember(ctx context.Context, groupID, userID int64, status MemberStatus, role MemberRole) (*GroupMember, error) {
	query := `
		UPDATE group_members
		SET status = $3, role = $4
		WHERE group_id = $1 AND user_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, groupID, userID, string(status), string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to update member: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}

	return r.GetMember(ctx, groupID, userID)
}

// RemoveMember removes a user from a group and advances the ledger version in
// one transaction. Nothing is removed, and ErrStaleLedger is returned, when
// the ledger version is no longer expectedVersion
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID, expectedVersion int64) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrMemberNotFound
		}

		return AdvanceVersion(ctx, tx, groupID, &expectedVersion)
	})
}

// UserExists reports whether a user row exists
func (r *Repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}
