/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for the accounts, transactions and
 * verification_codes tables, and implements the engine's atomic operations as
 * single database transactions with `SELECT ... FOR UPDATE` row locks.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models and the shared ledger rules.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crownbank/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx, so the balance
// sum and account fetch helpers can run inside or outside a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = "id, user_id, trading_token, ban, created_at"

// getAccount fetches an account, optionally locking its row for the duration
// of the surrounding transaction. A missing account yields (nil, nil) so the
// domain validators can produce the right business error.
func getAccount(ctx context.Context, q queryRower, accountID uuid.UUID, lock bool) (*domain.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	var account domain.Account
	err := q.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.UserID, &account.TradingToken, &account.Ban, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// sumDoneTransactions computes the signed sum of done transactions touching
// the account: credits where the account is the recipient, debits where it is
// the sender. Pending, cancelled and blocked rows never contribute.
func sumDoneTransactions(ctx context.Context, q queryRower, accountID uuid.UUID) (int64, error) {
	var balance int64
	query := `
		SELECT COALESCE(SUM(CASE WHEN to_id = $1 THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE status = 'done' AND (from_id = $1 OR to_id = $1)
	`
	if err := q.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// CreateAccount inserts a new account row. A trading-token collision is
// reported as ErrDuplicateTradingToken so the caller may regenerate.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, trading_token, ban, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		account.ID, account.UserID, account.TradingToken, account.Ban, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTradingToken
		}
		return err
	}
	return nil
}

// FindAccountByID retrieves an account by its id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := getAccount(ctx, r.db, accountID, false)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotExist
	}
	return account, nil
}

// FindAccountByTradingToken resolves the account owning a bearer token.
func (r *PostgresRepository) FindAccountByTradingToken(ctx context.Context, token string) (*domain.Account, error) {
	var account domain.Account
	query := "SELECT " + accountColumns + " FROM accounts WHERE trading_token = $1"
	err := r.db.QueryRow(ctx, query, token).Scan(
		&account.ID, &account.UserID, &account.TradingToken, &account.Ban, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotExist
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountsByUserID returns all accounts owned by a user, oldest first.
func (r *PostgresRepository) FindAccountsByUserID(ctx context.Context, userID int64) ([]domain.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE user_id = $1 ORDER BY created_at, id"
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(&account.ID, &account.UserID, &account.TradingToken, &account.Ban, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// SetAccountBan flips the ban flag. Returns false when the account is unknown.
func (r *PostgresRepository) SetAccountBan(ctx context.Context, accountID uuid.UUID, ban bool) (bool, error) {
	tag, err := r.db.Exec(ctx, "UPDATE accounts SET ban = $1 WHERE id = $2", ban, accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const transactionColumns = "id, from_id, to_id, amount, type, description, status, created_at"

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.FromID, &tx.ToID, &tx.Amount, &tx.Type, &tx.Description, &tx.Status, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByID retrieves a single transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE id = $1"
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotExist
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionsByAccountID returns the full history touching an account,
// newest first.
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := "SELECT " + transactionColumns + ` FROM transactions
		WHERE from_id = $1 OR to_id = $1
		ORDER BY created_at DESC, id DESC`
	return r.collectTransactions(ctx, query, accountID)
}

// FindTransactionsByAccountIDPaged returns one page of an account's history.
func (r *PostgresRepository) FindTransactionsByAccountIDPaged(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 1
	}
	query := "SELECT " + transactionColumns + ` FROM transactions
		WHERE from_id = $1 OR to_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	return r.collectTransactions(ctx, query, accountID, offset, limit)
}

// FindAllTransactionsPaged returns one page of the whole ledger, newest first.
func (r *PostgresRepository) FindAllTransactionsPaged(ctx context.Context, offset, limit int) ([]domain.Transaction, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 1
	}
	query := "SELECT " + transactionColumns + ` FROM transactions
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2`
	return r.collectTransactions(ctx, query, offset, limit)
}

func (r *PostgresRepository) collectTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// FindActiveCodesByAccountID returns the still-active codes of pending
// payments drawn on the account.
func (r *PostgresRepository) FindActiveCodesByAccountID(ctx context.Context, accountID uuid.UUID, now time.Time) ([]domain.VerificationCode, error) {
	query := `
		SELECT c.transaction_id, c.code, c.expires_at, c.attempts_remaining
		FROM verification_codes c
		JOIN transactions t ON t.id = c.transaction_id
		WHERE t.from_id = $1 AND t.type = 'payment' AND t.status = 'pending' AND c.expires_at >= $2
		ORDER BY c.expires_at
	`
	rows, err := r.db.Query(ctx, query, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []domain.VerificationCode
	for rows.Next() {
		var code domain.VerificationCode
		if err := rows.Scan(&code.TransactionID, &code.Code, &code.ExpiresAt, &code.AttemptsRemaining); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// CreateTransfer inserts a done transfer after validating parties and
// re-checking the payer balance under a row lock. Locking the payer account
// serializes concurrent debits so two transfers cannot both pass the funds
// check on a stale balance.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, t *domain.Transaction) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	from, err := getAccount(ctx, dbtx, *t.FromID, true)
	if err != nil {
		return err
	}
	to, err := getAccount(ctx, dbtx, *t.ToID, false)
	if err != nil {
		return err
	}
	if err := domain.ValidateTransfer(from, to, *t.FromID, *t.ToID); err != nil {
		return err
	}

	balance, err := sumDoneTransactions(ctx, dbtx, *t.FromID)
	if err != nil {
		return err
	}
	if balance < t.Amount {
		return domain.ErrInsufficientFunds
	}

	if err := insertTransaction(ctx, dbtx, t); err != nil {
		return err
	}
	return dbtx.Commit(ctx)
}

// CreatePayment inserts a pending payment and its verification code in one
// transaction. The payer balance is intentionally not checked here; the funds
// check happens lazily at verification time.
func (r *PostgresRepository) CreatePayment(ctx context.Context, t *domain.Transaction, code *domain.VerificationCode) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	from, err := getAccount(ctx, dbtx, *t.FromID, false)
	if err != nil {
		return err
	}
	to, err := getAccount(ctx, dbtx, *t.ToID, false)
	if err != nil {
		return err
	}
	if err := domain.ValidatePayment(from, to, *t.FromID, *t.ToID); err != nil {
		return err
	}

	if err := insertTransaction(ctx, dbtx, t); err != nil {
		return err
	}

	codeQuery := `
		INSERT INTO verification_codes (transaction_id, code, expires_at, attempts_remaining)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := dbtx.Exec(ctx, codeQuery, code.TransactionID, code.Code, code.ExpiresAt, code.AttemptsRemaining); err != nil {
		return err
	}
	return dbtx.Commit(ctx)
}

// CreateIssue inserts a done emission or commission after validating its
// single party. There is no funds check on either variant.
func (r *PostgresRepository) CreateIssue(ctx context.Context, t *domain.Transaction) error {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	partyID := t.ToID
	if t.Type == domain.TransactionCommission {
		partyID = t.FromID
	}
	party, err := getAccount(ctx, dbtx, *partyID, false)
	if err != nil {
		return err
	}
	if err := domain.ValidateIssue(party); err != nil {
		return err
	}

	if err := insertTransaction(ctx, dbtx, t); err != nil {
		return err
	}
	return dbtx.Commit(ctx)
}

// VerifyPayment runs one verification attempt atomically. The transaction row
// lock serializes concurrent attempts: the loser of a correct-code race blocks
// until the winner commits and then sees the done status.
func (r *PostgresRepository) VerifyPayment(ctx context.Context, confirmingAccountID, transactionID uuid.UUID, submittedCode int, now time.Time) (domain.VerifyStatus, error) {
	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	query := "SELECT " + transactionColumns + " FROM transactions WHERE id = $1 FOR UPDATE"
	t, err := scanTransaction(dbtx.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrTransactionNotExist
		}
		return "", err
	}

	if err := domain.CheckVerifiable(t, confirmingAccountID); err != nil {
		return "", err
	}

	var code domain.VerificationCode
	codeQuery := `
		SELECT transaction_id, code, expires_at, attempts_remaining
		FROM verification_codes
		WHERE transaction_id = $1
		FOR UPDATE
	`
	err = dbtx.QueryRow(ctx, codeQuery, transactionID).Scan(
		&code.TransactionID, &code.Code, &code.ExpiresAt, &code.AttemptsRemaining,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A pending payment without a code is a broken invariant, not a
			// business rejection.
			return "", fmt.Errorf("verification code missing for payment %s", transactionID)
		}
		return "", err
	}

	// Lock the payer account so the funds check and the status write are one
	// unit with respect to concurrent debits.
	if _, err := dbtx.Exec(ctx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", *t.FromID); err != nil {
		return "", err
	}
	balance, err := sumDoneTransactions(ctx, dbtx, *t.FromID)
	if err != nil {
		return "", err
	}

	status := domain.EvaluateVerification(code, submittedCode, now, balance >= t.Amount)
	if status == domain.VerifyIncorrectCode {
		updateQuery := "UPDATE verification_codes SET attempts_remaining = attempts_remaining - 1 WHERE transaction_id = $1"
		if _, err := dbtx.Exec(ctx, updateQuery, transactionID); err != nil {
			return "", err
		}
	} else {
		updateQuery := "UPDATE transactions SET status = $1 WHERE id = $2"
		if _, err := dbtx.Exec(ctx, updateQuery, domain.StatusForVerify(status), transactionID); err != nil {
			return "", err
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return "", err
	}
	return status, nil
}

func insertTransaction(ctx context.Context, dbtx pgx.Tx, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, from_id, to_id, amount, type, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := dbtx.Exec(ctx, query,
		t.ID, t.FromID, t.ToID, t.Amount, t.Type, t.Description, t.Status, t.CreatedAt,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
