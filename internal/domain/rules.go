/**
 * @description
 * This file holds the pure decision logic of the ledger engine: party
 * validation for transaction creation and the verification-code state machine.
 * Both store implementations (PostgreSQL and the in-memory store used by
 * tests) apply these functions inside their own atomic sections, so the rules
 * live in exactly one place.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerifyStatus is the outcome of one verification attempt. done, cancelled
// and blocked correspond to the transaction's terminal status; incorrect_code
// leaves the transaction pending and permits a retry.
type VerifyStatus string

const (
	VerifyDone          VerifyStatus = "done"
	VerifyCancelled     VerifyStatus = "cancelled"
	VerifyBlocked       VerifyStatus = "blocked"
	VerifyIncorrectCode VerifyStatus = "incorrect_code"
)

// ValidateTransfer checks the parties of a transfer. The self-transfer check
// runs first so it wins even when both ids are unknown; the from-account ban
// is reported before the to-account ban, each with its own wording.
func ValidateTransfer(from, to *Account, fromID, toID uuid.UUID) error {
	if fromID == toID {
		return ErrInvalidTransaction
	}
	if from == nil || to == nil {
		return ErrAccountNotExist
	}
	if from.Ban {
		return AccountBlocked("Your account is blocked!")
	}
	if to.Ban {
		return AccountBlocked("The recipient's account has been blocked!")
	}
	return nil
}

// ValidatePayment checks the parties of a payment. The checks mirror
// ValidateTransfer but the ban wordings swap: the caller creating a payment is
// the recipient, so the from-account is the buyer being charged.
func ValidatePayment(from, to *Account, fromID, toID uuid.UUID) error {
	if fromID == toID {
		return ErrInvalidTransaction
	}
	if from == nil || to == nil {
		return ErrAccountNotExist
	}
	if from.Ban {
		return AccountBlocked("The buyer's account has been blocked!")
	}
	if to.Ban {
		return AccountBlocked("Your account is blocked!")
	}
	return nil
}

// ValidateIssue checks the single party of an emission or commission.
func ValidateIssue(account *Account) error {
	if account == nil {
		return ErrAccountNotExist
	}
	if account.Ban {
		return ErrAccountBlocked
	}
	return nil
}

// CheckVerifiable decides whether a transaction may enter code evaluation.
// The check order is fixed: existence, ownership, type, then terminal state
// (cancelled before blocked before done).
func CheckVerifiable(tx *Transaction, confirmingAccountID uuid.UUID) error {
	if tx == nil {
		return ErrTransactionNotExist
	}
	if tx.ToID == nil || *tx.ToID != confirmingAccountID {
		return ErrNotYourTransaction
	}
	if tx.Type != TransactionPayment {
		return ErrInvalidTransactionType
	}
	switch tx.Status {
	case StatusCancelled:
		return ErrTransactionCancelled
	case StatusBlocked:
		return ErrTransactionBlocked
	case StatusDone:
		return ErrTransactionFinished
	}
	return nil
}

// EvaluateVerification decides the outcome of one attempt against a pending
// payment. Predicate precedence:
//
//  1. correct && active && funded  -> done
//  2. expired or underfunded       -> cancelled (permanent, even if the code
//     was correct or funds later return)
//  3. wrong code, last attempt     -> blocked
//  4. wrong code, attempts left    -> incorrect_code (caller decrements)
//
// A wrong-but-active-and-funded submission blocks when the decrement would
// exhaust the counter, so attempts_remaining never reaches zero in storage.
func EvaluateVerification(code VerificationCode, submitted int, now time.Time, balanceOK bool) VerifyStatus {
	correct := code.Code == submitted
	active := code.ActiveAt(now)

	switch {
	case correct && active && balanceOK:
		return VerifyDone
	case !active || !balanceOK:
		return VerifyCancelled
	case code.AttemptsRemaining <= 1:
		return VerifyBlocked
	default:
		return VerifyIncorrectCode
	}
}

// StatusForVerify maps a verification outcome to the transaction status it
// commits. incorrect_code maps to pending: the transaction does not move.
func StatusForVerify(status VerifyStatus) TransactionStatus {
	switch status {
	case VerifyDone:
		return StatusDone
	case VerifyCancelled:
		return StatusCancelled
	case VerifyBlocked:
		return StatusBlocked
	default:
		return StatusPending
	}
}
