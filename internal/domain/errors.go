/**
 * @description
 * This file defines the business-rule error taxonomy for the ledger engine.
 * Every rejection the engine can produce carries a machine-readable code and a
 * human-readable message. Infrastructure failures (database unreachable,
 * serialization conflicts) are never represented as an *Error; they propagate
 * as ordinary wrapped errors so callers can tell the two categories apart.
 */

package domain

import "errors"

// ErrorCode is the closed enumeration of business rejection kinds.
type ErrorCode string

const (
	ErrCodeAccountNotExist        ErrorCode = "account_not_exist"
	ErrCodeAccountBlocked         ErrorCode = "account_blocked"
	ErrCodeInvalidTransaction     ErrorCode = "invalid_transaction"
	ErrCodeInsufficientFunds      ErrorCode = "insufficient_funds"
	ErrCodeTransactionNotExist    ErrorCode = "transaction_not_exist"
	ErrCodeInvalidTransactionType ErrorCode = "invalid_transaction_type"
	ErrCodeTransactionCancelled   ErrorCode = "transaction_cancelled"
	ErrCodeTransactionBlocked     ErrorCode = "transaction_blocked"
	ErrCodeTransactionFinished    ErrorCode = "transaction_finished"
	ErrCodeNotYourTransaction     ErrorCode = "not_your_transaction"
)

// Error is a business-rule rejection. It is a final answer, never retried by
// the engine; the caller decides what to do with it.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches errors by code so errors.Is works across message variants
// (e.g. the from-banned and to-banned wordings of account_blocked).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Canonical instances. These double as errors.Is targets; sites that need a
// different user-facing wording construct their own *Error with the same code.
var (
	ErrAccountNotExist        = &Error{Code: ErrCodeAccountNotExist, Message: "Account doesn't exist."}
	ErrAccountBlocked         = &Error{Code: ErrCodeAccountBlocked, Message: "Account is blocked!"}
	ErrInvalidTransaction     = &Error{Code: ErrCodeInvalidTransaction, Message: "Such a transaction cannot be completed!"}
	ErrInsufficientFunds      = &Error{Code: ErrCodeInsufficientFunds, Message: "Insufficient funds!"}
	ErrTransactionNotExist    = &Error{Code: ErrCodeTransactionNotExist, Message: "Transaction doesn't exist."}
	ErrInvalidTransactionType = &Error{Code: ErrCodeInvalidTransactionType, Message: "Invalid transaction ID is specified."}
	ErrTransactionCancelled   = &Error{Code: ErrCodeTransactionCancelled, Message: "The transaction has been cancelled."}
	ErrTransactionBlocked     = &Error{Code: ErrCodeTransactionBlocked, Message: "The transaction has been blocked."}
	ErrTransactionFinished    = &Error{Code: ErrCodeTransactionFinished, Message: "The transaction has been completed."}
	ErrNotYourTransaction     = &Error{Code: ErrCodeNotYourTransaction, Message: "The transaction does not belong to you!"}
)

// AccountBlocked builds an account_blocked rejection with a site-specific
// message (the transfer and payment paths word the two ban cases differently).
func AccountBlocked(message string) *Error {
	return &Error{Code: ErrCodeAccountBlocked, Message: message}
}

// IsBusinessError reports whether err is a business-rule rejection as opposed
// to an infrastructure failure.
func IsBusinessError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// CodeOf extracts the business error code from err, if it carries one.
func CodeOf(err error) (ErrorCode, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}
