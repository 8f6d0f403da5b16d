/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the ledger engine needs. The engine never coordinates through
 * in-process state: every atomicity guarantee (funds re-check on transfer,
 * serialized verification attempts) is provided behind this interface by the
 * store's own transactional machinery.
 *
 * @notes
 * - Creation operations and VerifyPayment are single atomic units. They run
 *   the party-validation and state-machine rules from internal/domain inside
 *   their own transaction, so callers get business errors (*domain.Error)
 *   back from them directly.
 * - Find* methods translate "no row" into the matching business error;
 *   anything else they return is an infrastructure failure.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/crownbank/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// ErrDuplicateTradingToken is returned by CreateAccount when the generated
// bearer token collides with an existing one. Token uniqueness is enforced at
// the store layer.
var ErrDuplicateTradingToken = errors.New("trading token already in use")

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Accounts
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByTradingToken(ctx context.Context, token string) (*domain.Account, error)
	FindAccountsByUserID(ctx context.Context, userID int64) ([]domain.Account, error)
	// SetAccountBan returns false (and no error) when the account does not
	// exist; this is an administrative operation that fails silently.
	SetAccountBan(ctx context.Context, accountID uuid.UUID, ban bool) (bool, error)

	// Transactions (reads)
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	// FindTransactionsByAccountID returns the account's full history, newest
	// first. The balance calculator folds over this.
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
	FindTransactionsByAccountIDPaged(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, error)
	FindAllTransactionsPaged(ctx context.Context, offset, limit int) ([]domain.Transaction, error)
	// FindActiveCodesByAccountID returns the codes of pending payments drawn
	// on the account whose codes have not expired at the given instant.
	FindActiveCodesByAccountID(ctx context.Context, accountID uuid.UUID, now time.Time) ([]domain.VerificationCode, error)

	// Ledger engine atomic operations
	//
	// CreateTransfer validates parties, re-checks the payer balance under a
	// row lock and inserts the done transfer, all in one transaction.
	CreateTransfer(ctx context.Context, tx *domain.Transaction) error
	// CreatePayment validates parties and inserts the pending transaction
	// together with its verification code. The payer balance is intentionally
	// not checked here.
	CreatePayment(ctx context.Context, tx *domain.Transaction, code *domain.VerificationCode) error
	// CreateIssue validates the single party of an emission or commission and
	// inserts the done transaction.
	CreateIssue(ctx context.Context, tx *domain.Transaction) error
	// VerifyPayment runs one attempt of the verification state machine as an
	// atomic read-modify-write; concurrent attempts on the same transaction
	// serialize on the transaction row.
	VerifyPayment(ctx context.Context, confirmingAccountID, transactionID uuid.UUID, submittedCode int, now time.Time) (domain.VerifyStatus, error)
}
