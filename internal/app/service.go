/**
 * @description
 * This file contains the core business logic for the ledger-service. The
 * `Service` struct orchestrates account provisioning and all money movement
 * operations, coordinating between the store repository, the Redis rate
 * limiter and the message broker.
 *
 * Key features:
 * - Implements the main use cases: transfers, two-phase payments with code
 *   verification, emission and commission.
 * - Computes balances as a fold over the account's completed transactions.
 * - Publishes events to RabbitMQ after a transaction commits; publishing is
 *   fire-and-forget and never affects the outcome of the operation.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - crypto/rand: For verification-code and trading-token generation.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/crownbank/ledger-service/internal/domain"
	"github.com/crownbank/ledger-service/internal/store"
	"github.com/crownbank/ledger-service/pkg/rabbitmq"
)

const (
	// DefaultHistoryLimit is the page size used when the caller does not ask
	// for a specific one.
	DefaultHistoryLimit = 25

	// tokenCreateRetries bounds how often account creation retries on a
	// trading-token collision before giving up.
	tokenCreateRetries = 3

	verifyRateLimitScope = "verify"
)

// ErrVerifyRateLimited is returned by VerifyPayment when the caller has
// exceeded the per-account attempt budget. It is a throttling signal, not a
// business rejection: the attempt was not evaluated and no state changed.
var ErrVerifyRateLimited = errors.New("too many verification attempts")

// BatchFailure records why one item of a batch operation was rejected.
type BatchFailure struct {
	AccountID uuid.UUID `json:"account_id"`
	Message   string    `json:"message"`
}

// BatchResult summarizes a batch emission or commission run. Business
// rejections are accumulated per item; an infrastructure failure aborts the
// whole run instead.
type BatchResult struct {
	Completed int            `json:"completed"`
	Failed    []BatchFailure `json:"failed,omitempty"`
}

// Service provides the core business logic for the ledger.
type Service struct {
	repo                 store.Repository
	eventProducer        rabbitmq.Publisher
	verifyLimiter        RateLimiter
	notificationExchange string
	codeAttempts         int
	codeExpiration       time.Duration
	verifyLimitPerMin    int

	// now and randInt are injected so tests control time and code generation.
	now     func() time.Time
	randInt func(min, max int) int
}

// NewService creates a new ledger service instance.
func NewService(
	repo store.Repository,
	producer rabbitmq.Publisher,
	verifyLimiter RateLimiter,
	notificationExchange string,
	codeAttempts int,
	codeExpiration time.Duration,
	verifyLimitPerMin int,
) *Service {
	if codeAttempts < 1 {
		codeAttempts = 1
	}
	if codeExpiration <= 0 {
		codeExpiration = 5 * time.Minute
	}
	return &Service{
		repo:                 repo,
		eventProducer:        producer,
		verifyLimiter:        verifyLimiter,
		notificationExchange: notificationExchange,
		codeAttempts:         codeAttempts,
		codeExpiration:       codeExpiration,
		verifyLimitPerMin:    verifyLimitPerMin,
		now:                  time.Now,
		randInt:              cryptoRandInt,
	}
}

// cryptoRandInt returns a uniform random int in [min, max].
func cryptoRandInt(min, max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		// crypto/rand failing means the platform RNG is broken; there is no
		// sensible recovery for code generation.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return min + int(n.Int64())
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (s *Service) newTradingToken() string {
	token := make([]byte, domain.TradingTokenLength)
	for i := range token {
		token[i] = tokenAlphabet[s.randInt(0, len(tokenAlphabet)-1)]
	}
	return string(token)
}

// GetOrCreateAccount returns the user's primary account, creating it on first
// contact. When the user already owns accounts the oldest one is the primary.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	accounts, err := s.repo.FindAccountsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up accounts for user %d: %w", userID, err)
	}
	if len(accounts) > 0 {
		return &accounts[0], nil
	}

	var lastErr error
	for i := 0; i < tokenCreateRetries; i++ {
		account := &domain.Account{
			ID:           uuid.New(),
			UserID:       userID,
			TradingToken: s.newTradingToken(),
			CreatedAt:    s.now(),
		}
		err := s.repo.CreateAccount(ctx, account)
		if err == nil {
			log.Printf("level=info component=service msg=\"account created\" account_id=%s user_id=%d", account.ID, userID)
			return account, nil
		}
		if !errors.Is(err, store.ErrDuplicateTradingToken) {
			return nil, fmt.Errorf("failed to create account for user %d: %w", userID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to create account for user %d: %w", userID, lastErr)
}

// AccountByID loads an account.
func (s *Service) AccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// AccountByTradingToken resolves a bearer trading token to its account.
func (s *Service) AccountByTradingToken(ctx context.Context, token string) (*domain.Account, error) {
	return s.repo.FindAccountByTradingToken(ctx, token)
}

// SetAccountBan flips the ban flag on an account. A missing account is
// reported as unchanged, not as an error.
func (s *Service) SetAccountBan(ctx context.Context, accountID uuid.UUID, ban bool) (bool, error) {
	changed, err := s.repo.SetAccountBan(ctx, accountID, ban)
	if err != nil {
		return false, fmt.Errorf("failed to update ban for account %s: %w", accountID, err)
	}
	if changed {
		log.Printf("level=info component=service msg=\"account ban updated\" account_id=%s ban=%t", accountID, ban)
	}
	return changed, nil
}

// Balance computes the account's balance by folding over its completed
// transactions: credits where the account is the recipient, debits where it is
// the payer. Pending, cancelled and blocked transactions contribute nothing.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return 0, err
	}
	history, err := s.repo.FindTransactionsByAccountID(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to load history for account %s: %w", accountID, err)
	}

	var balance int64
	for _, tx := range history {
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
	return balance, nil
}

// Transfer moves funds from one account to another. The funds check and the
// insert are one atomic store operation; on success the transfer is already
// done.
func (s *Service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, description string) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:          uuid.New(),
		FromID:      &fromID,
		ToID:        &toID,
		Amount:      amount,
		Type:        domain.TransactionTransfer,
		Description: description,
		Status:      domain.StatusDone,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateTransfer(ctx, tx); err != nil {
		return nil, err
	}

	log.Printf("level=info component=service msg=\"transfer completed\" transaction_id=%s amount=%d", tx.ID, amount)
	s.publishTransactionEvent(ctx, tx, "transaction.transfer.completed")
	return tx, nil
}

// Payment opens a two-phase payment: the caller (recipient) charges the payer
// account. The transaction is created pending with a fresh verification code;
// the payer's balance is deliberately not checked until verification.
func (s *Service) Payment(ctx context.Context, fromID, toID uuid.UUID, amount int64, description string) (*domain.Transaction, error) {
	now := s.now()
	tx := &domain.Transaction{
		ID:          uuid.New(),
		FromID:      &fromID,
		ToID:        &toID,
		Amount:      amount,
		Type:        domain.TransactionPayment,
		Description: description,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}
	code := &domain.VerificationCode{
		TransactionID:     tx.ID,
		Code:              s.randInt(1000, 9999),
		ExpiresAt:         now.Add(s.codeExpiration),
		AttemptsRemaining: s.codeAttempts,
	}
	if err := s.repo.CreatePayment(ctx, tx, code); err != nil {
		return nil, err
	}

	log.Printf("level=info component=service msg=\"payment opened\" transaction_id=%s amount=%d", tx.ID, amount)
	s.publishCodeIssuedEvent(ctx, tx, code)
	return tx, nil
}

// VerifyPayment runs one verification attempt on behalf of the confirming
// account. Attempts are rate limited per account; a throttled call returns
// ErrVerifyRateLimited with the retry delay and does not consume an attempt.
func (s *Service) VerifyPayment(ctx context.Context, confirmingAccountID, transactionID uuid.UUID, submittedCode int) (domain.VerifyStatus, int, error) {
	if s.verifyLimiter != nil && s.verifyLimitPerMin > 0 {
		count, retryAfter, err := s.verifyLimiter.ConsumeRateLimit(
			ctx, verifyRateLimitScope, confirmingAccountID.String(), s.verifyLimitPerMin, time.Minute,
		)
		if err != nil {
			// Fail open: a limiter outage must not freeze payments.
			log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing attempt\" account_id=%s err=%v", confirmingAccountID, err)
		} else if count > s.verifyLimitPerMin {
			return "", retryAfter, ErrVerifyRateLimited
		}
	}

	status, err := s.repo.VerifyPayment(ctx, confirmingAccountID, transactionID, submittedCode, s.now())
	if err != nil {
		return "", 0, err
	}

	log.Printf("level=info component=service msg=\"verification attempt\" transaction_id=%s status=%s", transactionID, status)
	if status != domain.VerifyIncorrectCode {
		if tx, findErr := s.repo.FindTransactionByID(ctx, transactionID); findErr == nil {
			s.publishTransactionEvent(ctx, tx, "transaction.payment."+string(status))
		}
	}
	return status, 0, nil
}

// Emission credits an account from outside the ledger.
func (s *Service) Emission(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:          uuid.New(),
		ToID:        &accountID,
		Amount:      amount,
		Type:        domain.TransactionEmission,
		Description: description,
		Status:      domain.StatusDone,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateIssue(ctx, tx); err != nil {
		return nil, err
	}

	log.Printf("level=info component=service msg=\"emission completed\" transaction_id=%s account_id=%s amount=%d", tx.ID, accountID, amount)
	s.publishTransactionEvent(ctx, tx, "transaction.emission.completed")
	return tx, nil
}

// Commission debits an account out of the ledger. The account balance may go
// negative: commissions are administrative and always apply.
func (s *Service) Commission(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		ID:          uuid.New(),
		FromID:      &accountID,
		Amount:      amount,
		Type:        domain.TransactionCommission,
		Description: description,
		Status:      domain.StatusDone,
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateIssue(ctx, tx); err != nil {
		return nil, err
	}

	log.Printf("level=info component=service msg=\"commission completed\" transaction_id=%s account_id=%s amount=%d", tx.ID, accountID, amount)
	s.publishTransactionEvent(ctx, tx, "transaction.commission.completed")
	return tx, nil
}

// BatchEmission credits each listed account. Business rejections (unknown or
// banned accounts) are collected per item; an infrastructure error aborts the
// rest of the run.
func (s *Service) BatchEmission(ctx context.Context, accountIDs []uuid.UUID, amount int64, description string) (*BatchResult, error) {
	return s.runBatch(ctx, accountIDs, func(ctx context.Context, accountID uuid.UUID) error {
		_, err := s.Emission(ctx, accountID, amount, description)
		return err
	})
}

// BatchCommission debits each listed account, accumulating business
// rejections the same way BatchEmission does.
func (s *Service) BatchCommission(ctx context.Context, accountIDs []uuid.UUID, amount int64, description string) (*BatchResult, error) {
	return s.runBatch(ctx, accountIDs, func(ctx context.Context, accountID uuid.UUID) error {
		_, err := s.Commission(ctx, accountID, amount, description)
		return err
	})
}

func (s *Service) runBatch(ctx context.Context, accountIDs []uuid.UUID, op func(context.Context, uuid.UUID) error) (*BatchResult, error) {
	result := &BatchResult{}
	for _, accountID := range accountIDs {
		err := op(ctx, accountID)
		if err == nil {
			result.Completed++
			continue
		}
		if domain.IsBusinessError(err) {
			result.Failed = append(result.Failed, BatchFailure{AccountID: accountID, Message: err.Error()})
			continue
		}
		return nil, fmt.Errorf("batch aborted at account %s: %w", accountID, err)
	}
	return result, nil
}

// TransactionForAccount loads a single transaction, but only if it touches
// the given account. Transactions belonging to others are reported as missing
// rather than revealed.
func (s *Service) TransactionForAccount(ctx context.Context, accountID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.Touches(accountID) {
		return nil, &domain.Error{Code: domain.ErrCodeTransactionNotExist, Message: "The transaction does not exist for you."}
	}
	return tx, nil
}

// Transactions returns one page of an account's history, newest first.
func (s *Service) Transactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]domain.Transaction, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.FindTransactionsByAccountIDPaged(ctx, accountID, offset, limit)
}

// AllTransactions returns one page of the whole ledger, newest first. Admin
// surface only.
func (s *Service) AllTransactions(ctx context.Context, offset, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.FindAllTransactionsPaged(ctx, offset, limit)
}

// ActiveCodes returns the verification codes of the account's pending
// payments whose codes are still active.
func (s *Service) ActiveCodes(ctx context.Context, accountID uuid.UUID) ([]domain.VerificationCode, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.FindActiveCodesByAccountID(ctx, accountID, s.now())
}

func (s *Service) publishTransactionEvent(ctx context.Context, tx *domain.Transaction, routingKey string) {
	if s.eventProducer == nil {
		return
	}
	event := rabbitmq.TransactionEvent{
		TransactionID: tx.ID,
		FromID:        tx.FromID,
		ToID:          tx.ToID,
		Amount:        tx.Amount,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		Description:   tx.Description,
		Timestamp:     s.now(),
	}
	if err := s.eventProducer.Publish(ctx, s.notificationExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s transaction_id=%s err=%v", routingKey, tx.ID, err)
	}
}

func (s *Service) publishCodeIssuedEvent(ctx context.Context, tx *domain.Transaction, code *domain.VerificationCode) {
	if s.eventProducer == nil || tx.FromID == nil {
		return
	}
	event := rabbitmq.CodeIssuedEvent{
		TransactionID: tx.ID,
		AccountID:     *tx.FromID,
		Amount:        tx.Amount,
		Description:   tx.Description,
		Code:          code.Code,
		ExpiresAt:     code.ExpiresAt,
		Timestamp:     s.now(),
	}
	if err := s.eventProducer.Publish(ctx, s.notificationExchange, "payment.code.issued", event); err != nil {
		log.Printf("level=warn component=service msg=\"code event publish failed\" transaction_id=%s err=%v", tx.ID, err)
	}
}
