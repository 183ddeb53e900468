package split

import (
	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/ledger"
)

// ExactStrategy uses the amount given for each participant
type ExactStrategy struct{}

// Type returns the split type identifier
func (s *ExactStrategy) Type() ledger.SplitType {
	return ledger.SplitTypeExact
}

// Validate checks if the inputs are valid for an exact split
func (s *ExactStrategy) Validate(total decimal.Decimal, participants []Input) error {
	if err := validateCommon(total, participants); err != nil {
		return err
	}

	sum := decimal.Zero
	for _, p := range participants {
		if p.Amount == nil {
			return ErrMissingExactAmount
		}
		if p.Amount.IsNegative() {
			return ErrNegativeAmount
		}
		sum = sum.Add(ledger.Round2(*p.Amount))
	}

	if !ledger.WithinCent(sum, ledger.Round2(total)) {
		return ErrInvalidExactAmounts
	}

	return nil
}

// Calculate returns the given amounts rounded to cents. A difference of at
// most one cent against the total is moved onto the last participant
func (s *ExactStrategy) Calculate(total decimal.Decimal, participants []Input) ([]ledger.SplitDetail, error) {
	if err := s.Validate(total, participants); err != nil {
		return nil, err
	}

	details := make([]ledger.SplitDetail, len(participants))
	for i, p := range participants {
		details[i] = ledger.SplitDetail{Member: p.Member, Amount: ledger.Round2(*p.Amount)}
	}
	if err := settleRemainder(ledger.Round2(total), details); err != nil {
		return nil, err
	}

	return details, nil
}
