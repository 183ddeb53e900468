package split

import (
	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/ledger"
)

// PercentageStrategy divides the expense by the percentage given for each participant
type PercentageStrategy struct{}

// Type returns the split type identifier
func (s *PercentageStrategy) Type() ledger.SplitType {
	return ledger.SplitTypePercentage
}

// Validate checks if the inputs are valid for a percentage split
func (s *PercentageStrategy) Validate(total decimal.Decimal, participants []Input) error {
	if err := validateCommon(total, participants); err != nil {
		return err
	}

	sum := decimal.Zero
	for _, p := range participants {
		if p.Percent == nil {
			return ErrMissingPercentage
		}
		if p.Percent.IsNegative() || p.Percent.GreaterThan(hundred) {
			return ErrPercentageOutOfRange
		}
		sum = sum.Add(ledger.Round2(*p.Percent))
	}

	if !ledger.WithinCent(sum, hundred) {
		return ErrInvalidPercentages
	}

	return nil
}

// Calculate converts each percentage into an amount rounded to cents.
// The last participant absorbs the rounding remainder
func (s *PercentageStrategy) Calculate(total decimal.Decimal, participants []Input) ([]ledger.SplitDetail, error) {
	if err := s.Validate(total, participants); err != nil {
		return nil, err
	}

	total = ledger.Round2(total)
	details := make([]ledger.SplitDetail, len(participants))
	for i, p := range participants {
		percent := ledger.Round2(*p.Percent)
		details[i] = ledger.SplitDetail{
			Member:  p.Member,
			Percent: &percent,
			Amount:  ledger.Round2(total.Mul(percent).Div(hundred)),
		}
	}
	if err := settleRemainder(total, details); err != nil {
		return nil, err
	}

	return details, nil
}
