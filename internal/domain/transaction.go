/**
 * @description
 * This file defines the core ledger records: transactions and the verification
 * codes that gate two-party payment transactions. These structs map directly to
 * the `transactions` and `verification_codes` tables in the database.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit, which avoids
 *   floating-point inaccuracies with financial data.
 * - The transaction log is append-only: no record is ever deleted and no amount
 *   altered. The only permitted mutation is the single pending -> terminal
 *   status transition performed by payment verification.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the kinds of money movement the ledger records.
type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"   // immediate two-party movement
	TransactionPayment    TransactionType = "payment"    // code-verified two-party movement
	TransactionEmission   TransactionType = "emission"   // funds created into an account
	TransactionCommission TransactionType = "commission" // funds debited with no credit side
)

// TransactionStatus enumerates the lifecycle states of a transaction.
// done, cancelled and blocked are terminal.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusDone      TransactionStatus = "done"
	StatusCancelled TransactionStatus = "cancelled"
	StatusBlocked   TransactionStatus = "blocked"
)

// Terminal reports whether no further state transition is permitted.
func (s TransactionStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusBlocked
}

// Transaction is the central ledger record for any money movement.
// FromID is nil only for emissions; ToID is nil only for commissions.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	FromID      *uuid.UUID        `json:"from_id,omitempty"`
	ToID        *uuid.UUID        `json:"to_id,omitempty"`
	Amount      int64             `json:"amount"`
	Type        TransactionType   `json:"type"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Touches reports whether the transaction credits or debits the given account.
func (t *Transaction) Touches(accountID uuid.UUID) bool {
	if t.FromID != nil && *t.FromID == accountID {
		return true
	}
	return t.ToID != nil && *t.ToID == accountID
}

// VerificationCode is the short-lived numeric secret gating completion of a
// payment transaction. It is created atomically with its owning transaction
// and is inert once the transaction leaves pending.
type VerificationCode struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	Code              int       `json:"code"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

// ActiveAt reports whether the code has not yet expired at the given instant.
func (c VerificationCode) ActiveAt(now time.Time) bool {
	return !now.After(c.ExpiresAt)
}
