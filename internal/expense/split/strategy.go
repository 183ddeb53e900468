package split

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/ledger"
)

// Input is one participant of a split with the optional value its strategy needs
type Input struct {
	Member  ledger.MemberID  `json:"member_id"`
	Percent *decimal.Decimal `json:"percent,omitempty"` // percentage split
	Amount  *decimal.Decimal `json:"amount,omitempty"`  // exact split
}

// Strategy is the interface that all split strategies must implement
type Strategy interface {
	// Calculate returns one split detail per participant, in input order.
	// The amounts always add up to total
	Calculate(total decimal.Decimal, participants []Input) ([]ledger.SplitDetail, error)

	// Type returns the type identifier for this strategy
	Type() ledger.SplitType

	// Validate checks if the inputs are valid for this strategy
	Validate(total decimal.Decimal, participants []Input) error
}

// Factory creates split strategies based on the requested type
type Factory struct{}

// NewFactory creates a new factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// Create returns the appropriate strategy implementation based on the type
func (f *Factory) Create(splitType ledger.SplitType) (Strategy, error) {
	switch splitType {
	case ledger.SplitTypeEqual:
		return &EqualStrategy{}, nil
	case ledger.SplitTypePercentage:
		return &PercentageStrategy{}, nil
	case ledger.SplitTypeExact:
		return &ExactStrategy{}, nil
	default:
		return nil, ledger.Validationf("unknown split type: %s", splitType)
	}
}

// Calculate validates and computes a split in one call
func (f *Factory) Calculate(splitType ledger.SplitType, total decimal.Decimal, participants []Input) ([]ledger.SplitDetail, error) {
	strategy, err := f.Create(splitType)
	if err != nil {
		return nil, err
	}
	details, err := strategy.Calculate(total, participants)
	if err != nil {
		return nil, fmt.Errorf("%s split: %w", splitType, err)
	}
	return details, nil
}

var (
	ErrNoParticipants       = ledger.NewError(ledger.ErrValidation, "at least one participant is required")
	ErrDuplicateParticipant = ledger.NewError(ledger.ErrValidation, "participant listed more than once")
	ErrNonPositiveTotal     = ledger.NewError(ledger.ErrValidation, "amount must be greater than zero")
	ErrInvalidPercentages   = ledger.NewError(ledger.ErrValidation, "percentages must sum to 100")
	ErrInvalidExactAmounts  = ledger.NewError(ledger.ErrValidation, "exact amounts must sum to total amount")
	ErrNegativeAmount       = ledger.NewError(ledger.ErrValidation, "amounts cannot be negative")
	ErrMissingPercentage    = ledger.NewError(ledger.ErrValidation, "percentage value required for all participants")
	ErrMissingExactAmount   = ledger.NewError(ledger.ErrValidation, "exact amount required for all participants")
	ErrPercentageOutOfRange = ledger.NewError(ledger.ErrValidation, "percentage must be between 0 and 100")
	ErrNegativeShare        = ledger.NewError(ledger.ErrValidation, "split would leave the last participant with a negative share")
)

var hundred = decimal.NewFromInt(100)

// validateCommon checks the rules shared by every strategy
func validateCommon(total decimal.Decimal, participants []Input) error {
	if !total.IsPositive() {
		return ErrNonPositiveTotal
	}
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	seen := make(map[ledger.MemberID]bool, len(participants))
	for _, p := range participants {
		if seen[p.Member] {
			return ErrDuplicateParticipant
		}
		seen[p.Member] = true
	}
	return nil
}

// settleRemainder moves whatever the rounded shares miss from total onto the
// last participant, so the details always sum to total exactly. It fails
// with ErrNegativeShare when the last share cannot absorb the difference
func settleRemainder(total decimal.Decimal, details []ledger.SplitDetail) error {
	if len(details) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, d := range details {
		sum = sum.Add(d.Amount)
	}
	last := len(details) - 1
	amount := ledger.Round2(details[last].Amount.Add(total.Sub(sum)))
	if amount.IsNegative() {
		return ErrNegativeShare
	}
	details[last].Amount = amount
	return nil
}
