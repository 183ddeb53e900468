package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds shared by every feature package. Feature sentinels are built
// with NewError so that errors.Is matches both the sentinel and its kind
var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("validation failed")
	ErrOverpayment = errors.New("amount exceeds pending debt")
	ErrConflict    = errors.New("conflict")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// NewError returns an error with message msg that matches kind under errors.Is
func NewError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// Validationf formats a validation error
func Validationf(format string, args ...any) error {
	return &kindError{msg: fmt.Sprintf(format, args...), kind: ErrValidation}
}

// OverpaymentError is returned when a settlement exceeds what the payer owes
type OverpaymentError struct {
	GroupID    int64
	Member     MemberID
	Requested  decimal.Decimal
	MaxPayable decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	if !e.MaxPayable.IsPositive() {
		return fmt.Sprintf("member %d does not owe anything in group %d", e.Member, e.GroupID)
	}
	return "Amount exceeds pending debt. Max payable: " + e.MaxPayable.StringFixed(2)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }
