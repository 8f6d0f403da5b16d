/**
 * @description
 * This file provides an in-memory implementation of the `Repository`
 * interface. It backs the engine and API tests and is handy for local
 * development without a database. A single mutex stands in for the row locks
 * of the PostgreSQL implementation, which gives the same serialization
 * guarantees: creation operations and verification attempts are atomic with
 * respect to each other.
 */

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crownbank/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded, map-backed Repository implementation.
type MemoryRepository struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.Account
	accountOrder []uuid.UUID
	transactions map[uuid.UUID]*domain.Transaction
	txOrder      []uuid.UUID
	codes        map[uuid.UUID]*domain.VerificationCode
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:     make(map[uuid.UUID]*domain.Account),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		codes:        make(map[uuid.UUID]*domain.VerificationCode),
	}
}

// CreateAccount inserts an account, enforcing trading-token uniqueness.
func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.TradingToken == account.TradingToken {
			return ErrDuplicateTradingToken
		}
	}

	stored := *account
	r.accounts[account.ID] = &stored
	r.accountOrder = append(r.accountOrder, account.ID)
	return nil
}

// FindAccountByID retrieves an account by its id.
func (r *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotExist
	}
	clone := *account
	return &clone, nil
}

// FindAccountByTradingToken resolves the account owning a bearer token.
func (r *MemoryRepository) FindAccountByTradingToken(ctx context.Context, token string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.accountOrder {
		if r.accounts[id].TradingToken == token {
			clone := *r.accounts[id]
			return &clone, nil
		}
	}
	return nil, domain.ErrAccountNotExist
}

// FindAccountsByUserID returns all accounts owned by a user, oldest first.
func (r *MemoryRepository) FindAccountsByUserID(ctx context.Context, userID int64) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var accounts []domain.Account
	for _, id := range r.accountOrder {
		if r.accounts[id].UserID == userID {
			accounts = append(accounts, *r.accounts[id])
		}
	}
	return accounts, nil
}

// SetAccountBan flips the ban flag. Returns false when the account is unknown.
func (r *MemoryRepository) SetAccountBan(ctx context.Context, accountID uuid.UUID, ban bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return false, nil
	}
	account.Ban = ban
	return true, nil
}

// FindTransactionByID retrieves a single transaction.
func (r *MemoryRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotExist
	}
	clone := *tx
	return &clone, nil
}

// FindTransactionsByAccountID returns the full history touching an account,
// newest first.
func (r *MemoryRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactionsTouchingLocked(accountID), nil
}

// FindTransactionsByAccountIDPaged returns one page of an account's history.
func (r *MemoryRepository) FindTransactionsByAccountIDPaged(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.transactionsTouchingLocked(accountID), offset, limit), nil
}

// FindAllTransactionsPaged returns one page of the whole ledger, newest first.
func (r *MemoryRepository) FindAllTransactionsPaged(ctx context.Context, offset, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]domain.Transaction, 0, len(r.txOrder))
	for i := len(r.txOrder) - 1; i >= 0; i-- {
		all = append(all, *r.transactions[r.txOrder[i]])
	}
	return page(all, offset, limit), nil
}

// FindActiveCodesByAccountID returns the still-active codes of pending
// payments drawn on the account.
func (r *MemoryRepository) FindActiveCodesByAccountID(ctx context.Context, accountID uuid.UUID, now time.Time) ([]domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var codes []domain.VerificationCode
	for _, id := range r.txOrder {
		tx := r.transactions[id]
		if tx.Type != domain.TransactionPayment || tx.Status != domain.StatusPending {
			continue
		}
		if tx.FromID == nil || *tx.FromID != accountID {
			continue
		}
		code, ok := r.codes[id]
		if !ok || !code.ActiveAt(now) {
			continue
		}
		codes = append(codes, *code)
	}
	return codes, nil
}

// CreateTransfer validates parties, re-checks the payer balance and inserts
// the done transfer under the store mutex.
func (r *MemoryRepository) CreateTransfer(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.accounts[*t.FromID]
	to := r.accounts[*t.ToID]
	if err := domain.ValidateTransfer(from, to, *t.FromID, *t.ToID); err != nil {
		return err
	}
	if r.balanceLocked(*t.FromID) < t.Amount {
		return domain.ErrInsufficientFunds
	}

	r.insertTransactionLocked(t)
	return nil
}

// CreatePayment validates parties and inserts the pending transaction with
// its code. No funds check, by contract.
func (r *MemoryRepository) CreatePayment(ctx context.Context, t *domain.Transaction, code *domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.accounts[*t.FromID]
	to := r.accounts[*t.ToID]
	if err := domain.ValidatePayment(from, to, *t.FromID, *t.ToID); err != nil {
		return err
	}

	r.insertTransactionLocked(t)
	storedCode := *code
	r.codes[t.ID] = &storedCode
	return nil
}

// CreateIssue validates the single party of an emission or commission and
// inserts the done transaction.
func (r *MemoryRepository) CreateIssue(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	partyID := t.ToID
	if t.Type == domain.TransactionCommission {
		partyID = t.FromID
	}
	if err := domain.ValidateIssue(r.accounts[*partyID]); err != nil {
		return err
	}

	r.insertTransactionLocked(t)
	return nil
}

// VerifyPayment runs one verification attempt under the store mutex, which
// serializes concurrent attempts the way the row lock does in PostgreSQL.
func (r *MemoryRepository) VerifyPayment(ctx context.Context, confirmingAccountID, transactionID uuid.UUID, submittedCode int, now time.Time) (domain.VerifyStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := r.transactions[transactionID]
	if err := domain.CheckVerifiable(tx, confirmingAccountID); err != nil {
		return "", err
	}

	code, ok := r.codes[transactionID]
	if !ok {
		return "", fmt.Errorf("verification code missing for payment %s", transactionID)
	}

	balanceOK := r.balanceLocked(*tx.FromID) >= tx.Amount
	status := domain.EvaluateVerification(*code, submittedCode, now, balanceOK)
	if status == domain.VerifyIncorrectCode {
		code.AttemptsRemaining--
	} else {
		tx.Status = domain.StatusForVerify(status)
	}
	return status, nil
}

func (r *MemoryRepository) insertTransactionLocked(t *domain.Transaction) {
	stored := *t
	r.transactions[t.ID] = &stored
	r.txOrder = append(r.txOrder, t.ID)
}

func (r *MemoryRepository) balanceLocked(accountID uuid.UUID) int64 {
	var balance int64
	for _, id := range r.txOrder {
		tx := r.transactions[id]
		if tx.Status != domain.StatusDone {
			continue
		}
		if tx.ToID != nil && *tx.ToID == accountID {
			balance += tx.Amount
		}
		if tx.FromID != nil && *tx.FromID == accountID {
			balance -= tx.Amount
		}
	}
	return balance
}

func (r *MemoryRepository) transactionsTouchingLocked(accountID uuid.UUID) []domain.Transaction {
	var transactions []domain.Transaction
	for i := len(r.txOrder) - 1; i >= 0; i-- {
		tx := r.transactions[r.txOrder[i]]
		if tx.Touches(accountID) {
			transactions = append(transactions, *tx)
		}
	}
	return transactions
}

func page(transactions []domain.Transaction, offset, limit int) []domain.Transaction {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 1
	}
	if offset >= len(transactions) {
		return nil
	}
	end := offset + limit
	if end > len(transactions) {
		end = len(transactions)
	}
	return transactions[offset:end]
}
