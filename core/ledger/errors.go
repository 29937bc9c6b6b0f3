package ledger

import (
	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
)

var (
	ErrLedgerNotFound            = errors.New("ledger not found")
	ErrDuplicateLedger           = errors.New("a ledger already exists for this student and period")
	ErrInvalidAmount             = errors.New("amount must be greater than zero")
	ErrBalanceExceeded           = errors.New("amount exceeds the outstanding balance")
	ErrDuplicatePaymentReference = errors.New("a payment with this reference was already recorded")
	ErrLedgerTerminal            = errors.New("ledger is closed")
	ErrConcurrentUpdate          = errors.New("ledger was modified concurrently")
	ErrPaymentNotFound           = errors.New("payment not found")
	ErrPaymentRefunded           = errors.New("payment was already refunded")
	ErrDiscountNotApplicable     = errors.New("discount rule is not valid on this date")
	ErrDiscountAlreadyApplied    = errors.New("discount rule was already applied to this ledger")
	ErrInvariantViolated         = errors.New("ledger invariant violated")
)

// Error codes returned by ErrorCode
const (
	CodeDefinitionNotFound        = "DEFINITION_NOT_FOUND"
	CodeDefinitionNotActive       = "DEFINITION_NOT_ACTIVE"
	CodeLedgerNotFound            = "LEDGER_NOT_FOUND"
	CodeDuplicateLedger           = "DUPLICATE_LEDGER"
	CodeInvalidAmount             = "INVALID_AMOUNT"
	CodeBalanceExceeded           = "BALANCE_EXCEEDED"
	CodeDuplicatePaymentReference = "DUPLICATE_PAYMENT_REFERENCE"
	CodeLedgerTerminal            = "LEDGER_TERMINAL"
	CodeConcurrentUpdate          = "CONCURRENT_UPDATE_CONFLICT"
	CodePaymentNotFound           = "PAYMENT_NOT_FOUND"
	CodePaymentRefunded           = "PAYMENT_REFUNDED"
	CodeDiscountNotFound          = "DISCOUNT_RULE_NOT_FOUND"
	CodeDiscountNotApplicable     = "DISCOUNT_NOT_APPLICABLE"
	CodeDiscountAlreadyApplied    = "DISCOUNT_ALREADY_APPLIED"
	CodeValidation                = "VALIDATION_FAILED"
	CodeInternal                  = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{fee.ErrDefinitionNotFound, CodeDefinitionNotFound},
	{fee.ErrDefinitionNotActive, CodeDefinitionNotActive},
	{fee.ErrDiscountRuleNotFound, CodeDiscountNotFound},
	{fee.ErrUnknownComponent, CodeValidation},
	{ErrLedgerNotFound, CodeLedgerNotFound},
	{ErrDuplicateLedger, CodeDuplicateLedger},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrBalanceExceeded, CodeBalanceExceeded},
	{ErrDuplicatePaymentReference, CodeDuplicatePaymentReference},
	{ErrLedgerTerminal, CodeLedgerTerminal},
	{ErrConcurrentUpdate, CodeConcurrentUpdate},
	{ErrPaymentNotFound, CodePaymentNotFound},
	{ErrPaymentRefunded, CodePaymentRefunded},
	{ErrDiscountNotApplicable, CodeDiscountNotApplicable},
	{ErrDiscountAlreadyApplied, CodeDiscountAlreadyApplied},
}

// ErrorCode maps an engine error to the stable code reported to callers.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	if core.IsValidationError(err) {
		return CodeValidation
	}
	return CodeInternal
}
