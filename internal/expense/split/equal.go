package split

import (
	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/ledger"
)

// EqualStrategy divides the expense equally among all participants, payer included
type EqualStrategy struct{}

// Type returns the split type identifier
func (s *EqualStrategy) Type() ledger.SplitType {
	return ledger.SplitTypeEqual
}

// Validate checks if the inputs are valid for an equal split
func (s *EqualStrategy) Validate(total decimal.Decimal, participants []Input) error {
	return validateCommon(total, participants)
}

// Calculate gives every participant the per-head share rounded to cents.
// The last participant absorbs the rounding remainder
func (s *EqualStrategy) Calculate(total decimal.Decimal, participants []Input) ([]ledger.SplitDetail, error) {
	if err := s.Validate(total, participants); err != nil {
		return nil, err
	}

	total = ledger.Round2(total)
	share := total.DivRound(decimal.NewFromInt(int64(len(participants))), 2)

	details := make([]ledger.SplitDetail, len(participants))
	for i, p := range participants {
		details[i] = ledger.SplitDetail{Member: p.Member, Amount: share}
	}
	if err := settleRemainder(total, details); err != nil {
		return nil, err
	}

	return details, nil
}
