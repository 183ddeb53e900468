package expense

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/database"
	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/ledger"
)

// Repository handles expense and split data persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new expense repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const expenseColumns = `e.id, e.group_id, e.paid_by, e.description, e.amount, e.split_type, e.created_by, e.created_at, e.updated_at, u.full_name`

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (*Expense, error) {
	expense := &Expense{}
	var paidBy int64
	var splitType string
	if err := row.Scan(
		&expense.ID,
		&expense.GroupID,
		&paidBy,
		&expense.Description,
		&expense.Amount,
		&splitType,
		&expense.CreatedBy,
		&expense.CreatedAt,
		&expense.UpdatedAt,
		&expense.PaidByName,
	); err != nil {
		return nil, err
	}
	expense.PaidBy = ledger.MemberID(paidBy)
	expense.SplitType = ledger.SplitType(splitType)
	return expense, nil
}

func insertSplits(ctx context.Context, tx *sql.Tx, expenseID int64, details []ledger.SplitDetail) error {
	query := `
		INSERT INTO expense_splits (expense_id, position, member_id, percent, amount)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, d := range details {
		var percent any
		if d.Percent != nil {
			percent = d.Percent.String()
		}
		if _, err := tx.ExecContext(ctx, query, expenseID, i, int64(d.Member), percent, d.Amount.String()); err != nil {
			return fmt.Errorf("failed to create split: %w", err)
		}
	}
	return nil
}

// Create inserts an expense with its split and bumps the group ledger version.
// With a non-nil expectedVersion nothing is written and group.ErrStaleLedger
// is returned when the ledger has moved on since that version was read
func (r *Repository) Create(ctx context.Context, expense *Expense, expectedVersion *int64) error {
	now := time.Now().UTC()

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO expenses (group_id, paid_by, description, amount, split_type, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`
		err := tx.QueryRowContext(ctx, query,
			expense.GroupID,
			int64(expense.PaidBy),
			expense.Description,
			expense.Amount.String(),
			string(expense.SplitType),
			expense.CreatedBy,
			now,
			now,
		).Scan(&expense.ID)
		if err != nil {
			return fmt.Errorf("failed to create expense: %w", err)
		}

		if err := insertSplits(ctx, tx, expense.ID, expense.Splits); err != nil {
			return err
		}
		return group.AdvanceVersion(ctx, tx, expense.GroupID, expectedVersion)
	})
	if err != nil {
		expense.ID = 0
		return err
	}

	expense.CreatedAt = now
	expense.UpdatedAt = now
	return nil
}

// Update rewrites an expense and its split and bumps the group ledger
// version, with the same expectedVersion semantics as Create
func (r *Repository) Update(ctx context.Context, expense *Expense, expectedVersion *int64) error {
	now := time.Now().UTC()

	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE expenses
			SET paid_by = $2, description = $3, amount = $4, split_type = $5, updated_at = $6
			WHERE id = $1
		`
		result, err := tx.ExecContext(ctx, query,
			expense.ID,
			int64(expense.PaidBy),
			expense.Description,
			expense.Amount.String(),
			string(expense.SplitType),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return ErrExpenseNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM expense_splits WHERE expense_id = $1`, expense.ID); err != nil {
			return fmt.Errorf("failed to clear splits: %w", err)
		}
		if err := insertSplits(ctx, tx, expense.ID, expense.Splits); err != nil {
			return err
		}
		return group.AdvanceVersion(ctx, tx, expense.GroupID, expectedVersion)
	})
	if err != nil {
		return err
	}

	expense.UpdatedAt = now
	return nil
}

// Delete removes an expense and bumps the group ledger version
func (r *Repository) Delete(ctx context.Context, id, groupID int64) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrExpenseNotFound
		}

		return group.AdvanceVersion(ctx, tx, groupID, nil)
	})
}

// GetByID retrieves an expense with its split
func (r *Repository) GetByID(ctx context.Context, id int64) (*Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		JOIN users u ON e.paid_by = u.id
		WHERE e.id = $1
	`

	expense, err := scanExpense(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	splits, err := r.splitsFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	expense.Splits = splits[id]

	return expense, nil
}

// ListByGroup retrieves a page of a group's expenses, newest first
func (r *Repository) ListByGroup(ctx context.Context, groupID int64, limit, offset int) ([]*Expense, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses WHERE group_id = $1`, groupID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count expenses: %w", err)
	}

	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		JOIN users u ON e.paid_by = u.id
		WHERE e.group_id = $1
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2 OFFSET $3
	`
	expenses, err := r.queryExpenses(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}
	splits, err := r.splitsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, e := range expenses {
		e.Splits = splits[e.ID]
	}

	return expenses, total, nil
}

// ListLedgerExpenses returns every expense of a group in recording order
func (r *Repository) ListLedgerExpenses(ctx context.Context, groupID int64) ([]ledger.Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		JOIN users u ON e.paid_by = u.id
		WHERE e.group_id = $1
		ORDER BY e.created_at, e.id
	`
	expenses, err := r.queryExpenses(ctx, query, groupID)
	if err != nil {
		return nil, err
	}

	splits, err := r.groupSplits(ctx, groupID)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Expense, len(expenses))
	for i, e := range expenses {
		e.Splits = splits[e.ID]
		out[i] = e.Ledger()
	}
	return out, nil
}

func (r *Repository) queryExpenses(ctx context.Context, query string, args ...any) ([]*Expense, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*Expense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	return expenses, nil
}

func (r *Repository) splitsFor(ctx context.Context, expenseIDs []int64) (map[int64][]ledger.SplitDetail, error) {
	if len(expenseIDs) == 0 {
		return map[int64][]ledger.SplitDetail{}, nil
	}

	args := make([]any, len(expenseIDs))
	for i, id := range expenseIDs {
		args[i] = id
	}
	query := `
		SELECT expense_id, member_id, percent, amount
		FROM expense_splits
		WHERE expense_id IN (` + database.Placeholders(1, len(expenseIDs)) + `)
		ORDER BY expense_id, position
	`
	return r.querySplits(ctx, query, args...)
}

func (r *Repository) groupSplits(ctx context.Context, groupID int64) (map[int64][]ledger.SplitDetail, error) {
	query := `
		SELECT s.expense_id, s.member_id, s.percent, s.amount
		FROM expense_splits s
		JOIN expenses e ON e.id = s.expense_id
		WHERE e.group_id = $1
		ORDER BY s.expense_id, s.position
	`
	return r.querySplits(ctx, query, groupID)
}

func (r *Repository) querySplits(ctx context.Context, query string, args ...any) (map[int64][]ledger.SplitDetail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	defer rows.Close()

	splits := make(map[int64][]ledger.SplitDetail)
	for rows.Next() {
		var (
			expenseID, memberID int64
			percent             decimal.NullDecimal
			amount              decimal.Decimal
		)
		if err := rows.Scan(&expenseID, &memberID, &percent, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}

		detail := ledger.SplitDetail{Member: ledger.MemberID(memberID), Amount: amount}
		if percent.Valid {
			p := percent.Decimal
			detail.Percent = &p
		}
		splits[expenseID] = append(splits[expenseID], detail)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	return splits, nil
}
