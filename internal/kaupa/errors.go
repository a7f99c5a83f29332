package kaupa

import (
	"errors"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/fees"
)

// Configuration errors, raised by New.
var (
	ErrInvalidConfig      = errors.New("kaupa: invalid configuration")
	ErrInvalidTradingPair = errors.New("kaupa: invalid trading pair configuration")
)

// Validation errors, raised before an operation changes anything.
var (
	ErrProofShape         = errors.New("kaupa: identity proof must hold exactly one item")
	ErrAskingMismatch     = errors.New("kaupa: asking type does not match resource")
	ErrPartialShape       = errors.New("kaupa: partial proposals take exactly one resource on each side")
	ErrPairShape          = errors.New("kaupa: trading pair proposals take exactly one resource on each side")
	ErrPartialRequired    = errors.New("kaupa: this instance only permits allow_partial proposals")
	ErrTokenMismatch      = errors.New("kaupa: token types mismatch")
	ErrEmptyOffering      = errors.New("kaupa: offering is empty")
	ErrFlashLoansDisabled = errors.New("kaupa: flash loans are not enabled")
	ErrPartialFlashLoan   = errors.New("kaupa: partial flash loans not supported")
	ErrProposalNotFound   = errors.New("kaupa: no such proposal")
	ErrWrongOwner         = errors.New("kaupa: wrong trader identity")
	ErrNotCounterparty    = errors.New("kaupa: this proposal is not for you")
	ErrNotTradingPair     = errors.New("kaupa: sweep only allowed on trading pairs")
	ErrWrongDebtToken     = errors.New("kaupa: wrong transient resource")
	ErrUnknownDebt        = errors.New("kaupa: unknown flash loan")
	ErrNotOwner           = errors.New("kaupa: missing component owner badge")
)

// Insufficiency errors.
var (
	ErrInsufficientPayment     = errors.New("kaupa: insufficient payment")
	ErrInsufficientFullFunding = errors.New("kaupa: insufficient funding for the full proposal")
	ErrInsufficientFunds       = errors.New("kaupa: insufficient funds to make a trade")
	ErrInsufficientRepayment   = errors.New("kaupa: insufficient flash loan repayment")
)

// Invocation errors.
var (
	ErrUnrepaidFlashLoan = errors.New("kaupa: flash loan not repaid before commit")
	ErrAborted           = errors.New("kaupa: invocation already aborted")
	ErrInvocationClosed  = errors.New("kaupa: invocation already finished")
	ErrInvariant         = errors.New("kaupa: internal invariant violated")
)

// IsConfiguration reports errors raised when creating an engine.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidTradingPair) ||
		errors.Is(err, fees.ErrInvalidFees)
}

// IsNotFound reports a missing proposal or flash loan.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProposalNotFound) || errors.Is(err, ErrUnknownDebt)
}

// IsValidation reports malformed requests and authorization failures.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrProofShape, ErrAskingMismatch, ErrPartialShape, ErrPairShape,
		ErrPartialRequired, ErrTokenMismatch, ErrEmptyOffering, ErrFlashLoansDisabled,
		ErrPartialFlashLoan, ErrWrongOwner, ErrNotCounterparty, ErrNotTradingPair,
		ErrWrongDebtToken, ErrNotOwner,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInsufficiency reports payments, fees or repayments that fell short.
func IsInsufficiency(err error) bool {
	for _, target := range []error{
		ErrInsufficientPayment, ErrInsufficientFullFunding, ErrInsufficientFunds,
		ErrInsufficientRepayment, ErrUnrepaidFlashLoan,
		fees.ErrInsufficientFees, asset.ErrInsufficientAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
