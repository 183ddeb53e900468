package group

import (
	"context"
	"database/sql"
	"fmt"
)

// AdvanceVersion bumps the ledger version of a group inside tx. With a
// non-nil expected version the bump only applies while the stored version
// still matches, and ErrStaleLedger is returned otherwise
func AdvanceVersion(ctx context.Context, tx *sql.Tx, groupID int64, expected *int64) error {
	var (
		result sql.Result
		err    error
	)
	if expected == nil {
		result, err = tx.ExecContext(ctx,
			`UPDATE groups SET ledger_version = ledger_version + 1 WHERE id = $1`, groupID)
	} else {
		result, err = tx.ExecContext(ctx,
			`UPDATE groups SET ledger_version = ledger_version + 1 WHERE id = $1 AND ledger_version = $2`,
			groupID, *expected)
	}
	if err != nil {
		return fmt.Errorf("failed to advance ledger version: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if expected == nil {
			return ErrGroupNotFound
		}
		return ErrStaleLedger
	}

	return nil
}
