package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fkhayef/settleup/internal/database"
	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/ledger"
)

// Repository handles settlement data persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new settlement repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// AppendWithVersion inserts a settlement and advances the group ledger
// version in one transaction. It fails with group.ErrStaleLedger, writing
// nothing, when the ledger version is no longer expectedVersion
func (r *Repository) AppendWithVersion(ctx context.Context, s *Settlement, expectedVersion int64) error {
	now := time.Now().UTC()
	if s.SettledAt.IsZero() {
		s.SettledAt = now
	}

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO settlements (group_id, from_member, to_member, amount, settled_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		err := tx.QueryRowContext(ctx, query,
			s.GroupID,
			int64(s.From),
			int64(s.To),
			s.Amount.String(),
			s.SettledAt,
			now,
		).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to create settlement: %w", err)
		}

		return group.AdvanceVersion(ctx, tx, s.GroupID, &expectedVersion)
	})
	if err != nil {
		s.ID = 0
		return err
	}

	s.CreatedAt = now
	return nil
}

// ListByGroup retrieves a page of a group's settlements, newest first
func (r *Repository) ListByGroup(ctx context.Context, groupID int64, limit, offset int) ([]*Settlement, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settlements WHERE group_id = $1`, groupID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count settlements: %w", err)
	}

	query := `
		SELECT s.id, s.group_id, s.from_member, s.to_member, s.amount, s.settled_at, s.created_at,
		       uf.full_name, ut.full_name
		FROM settlements s
		JOIN users uf ON s.from_member = uf.id
		JOIN users ut ON s.to_member = ut.id
		WHERE s.group_id = $1
		ORDER BY s.settled_at DESC, s.id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	settlements := make([]*Settlement, 0)
	for rows.Next() {
		s := &Settlement{}
		var from, to int64
		if err := rows.Scan(
			&s.ID,
			&s.GroupID,
			&from,
			&to,
			&s.Amount,
			&s.SettledAt,
			&s.CreatedAt,
			&s.FromName,
			&s.ToName,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan settlement: %w", err)
		}
		s.From = ledger.MemberID(from)
		s.To = ledger.MemberID(to)
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list settlements: %w", err)
	}

	return settlements, total, nil
}

// ListLedgerSettlements returns every settlement of a group in recording order
func (r *Repository) ListLedgerSettlements(ctx context.Context, groupID int64) ([]ledger.Settlement, error) {
	query := `
		SELECT id, from_member, to_member, amount, settled_at
		FROM settlements
		WHERE group_id = $1
		ORDER BY settled_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	settlements := make([]ledger.Settlement, 0)
	for rows.Next() {
		var (
			s        ledger.Settlement
			from, to int64
		)
		if err := rows.Scan(&s.ID, &from, &to, &s.Amount, &s.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		s.From = ledger.MemberID(from)
		s.To = ledger.MemberID(to)
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}

	return settlements, nil
}
