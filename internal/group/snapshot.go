package group

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fkhayef/settleup/internal/ledger"
)

// MemberSource reports the ledger version and current members of a group
type MemberSource interface {
	LedgerVersion(ctx context.Context, groupID int64) (int64, error)
	ListCurrentMembers(ctx context.Context, groupID int64) ([]ledger.Member, error)
}

// Snapshot is one read of a group ledger together with the version it was read at
type Snapshot struct {
	Version  int64
	Members  []ledger.Member
	Balances ledger.Balances
}

// IsMember reports whether id was a current member when the snapshot was taken
func (s *Snapshot) IsMember(id ledger.MemberID) bool {
	for _, m := range s.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// MemberName returns the name of a current member, or "" for anyone else
func (s *Snapshot) MemberName(id ledger.MemberID) string {
	for _, m := range s.Members {
		if m.ID == id {
			return m.FullName
		}
	}
	return ""
}

// ReadSnapshot reads the ledger version first and then the members, expenses
// and settlements concurrently, so a write landing in between makes the
// version stale rather than the balances
func ReadSnapshot(ctx context.Context, groupID int64, members MemberSource, expenses ExpenseSource, settlements SettlementSource) (*Snapshot, error) {
	version, err := members.LedgerVersion(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var (
		current  []ledger.Member
		expList  []ledger.Expense
		settList []ledger.Settlement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = members.ListCurrentMembers(gctx, groupID)
		return err
	})
	g.Go(func() error {
		var err error
		expList, err = expenses.ListLedgerExpenses(gctx, groupID)
		return err
	})
	g.Go(func() error {
		var err error
		settList, err = settlements.ListLedgerSettlements(gctx, groupID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Version:  version,
		Members:  current,
		Balances: ledger.ComputeBalances(current, expList, settList),
	}, nil
}
