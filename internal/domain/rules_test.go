package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidateTransfer(t *testing.T) {
	selfID := uuid.New()
	fromID := uuid.New()
	toID := uuid.New()
	active := func(id uuid.UUID) *Account { return &Account{ID: id} }
	banned := func(id uuid.UUID) *Account { return &Account{ID: id, Ban: true} }

	testCases := []struct {
		name        string
		from, to    *Account
		fromID      uuid.UUID
		toID        uuid.UUID
		wantErr     error
		wantMessage string
	}{
		{
			name:    "self transfer wins even when both unknown",
			fromID:  selfID,
			toID:    selfID,
			wantErr: ErrInvalidTransaction,
		},
		{
			name:    "missing payer",
			to:      active(toID),
			fromID:  fromID,
			toID:    toID,
			wantErr: ErrAccountNotExist,
		},
		{
			name:    "missing recipient",
			from:    active(fromID),
			fromID:  fromID,
			toID:    toID,
			wantErr: ErrAccountNotExist,
		},
		{
			name:        "banned payer reported before banned recipient",
			from:        banned(fromID),
			to:          banned(toID),
			fromID:      fromID,
			toID:        toID,
			wantErr:     ErrAccountBlocked,
			wantMessage: "Your account is blocked!",
		},
		{
			name:        "banned recipient",
			from:        active(fromID),
			to:          banned(toID),
			fromID:      fromID,
			toID:        toID,
			wantErr:     ErrAccountBlocked,
			wantMessage: "The recipient's account has been blocked!",
		},
		{
			name:   "valid parties",
			from:   active(fromID),
			to:     active(toID),
			fromID: fromID,
			toID:   toID,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTransfer(tc.from, tc.to, tc.fromID, tc.toID)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantMessage != "" && err.Error() != tc.wantMessage {
				t.Fatalf("message = %q, want %q", err.Error(), tc.wantMessage)
			}
		})
	}
}

func TestValidatePaymentBanWordings(t *testing.T) {
	fromID := uuid.New()
	toID := uuid.New()

	err := ValidatePayment(&Account{ID: fromID, Ban: true}, &Account{ID: toID}, fromID, toID)
	if !errors.Is(err, ErrAccountBlocked) || err.Error() != "The buyer's account has been blocked!" {
		t.Fatalf("banned buyer: %v", err)
	}

	err = ValidatePayment(&Account{ID: fromID}, &Account{ID: toID, Ban: true}, fromID, toID)
	if !errors.Is(err, ErrAccountBlocked) || err.Error() != "Your account is blocked!" {
		t.Fatalf("banned recipient: %v", err)
	}
}

func TestValidateIssue(t *testing.T) {
	if err := ValidateIssue(nil); !errors.Is(err, ErrAccountNotExist) {
		t.Fatalf("nil account: %v", err)
	}
	if err := ValidateIssue(&Account{Ban: true}); !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("banned account: %v", err)
	}
	if err := ValidateIssue(&Account{}); err != nil {
		t.Fatalf("active account: %v", err)
	}
}

func TestCheckVerifiable(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()
	payment := func(status TransactionStatus) *Transaction {
		to := owner
		return &Transaction{ID: uuid.New(), ToID: &to, Type: TransactionPayment, Status: status}
	}

	testCases := []struct {
		name      string
		tx        *Transaction
		confirmer uuid.UUID
		wantErr   error
	}{
		{name: "missing transaction", tx: nil, confirmer: owner, wantErr: ErrTransactionNotExist},
		{name: "ownership checked before type", tx: &Transaction{Type: TransactionTransfer}, confirmer: stranger, wantErr: ErrNotYourTransaction},
		{
			name: "wrong type",
			tx: func() *Transaction {
				to := owner
				return &Transaction{ToID: &to, Type: TransactionTransfer, Status: StatusDone}
			}(),
			confirmer: owner,
			wantErr:   ErrInvalidTransactionType,
		},
		{name: "cancelled", tx: payment(StatusCancelled), confirmer: owner, wantErr: ErrTransactionCancelled},
		{name: "blocked", tx: payment(StatusBlocked), confirmer: owner, wantErr: ErrTransactionBlocked},
		{name: "done", tx: payment(StatusDone), confirmer: owner, wantErr: ErrTransactionFinished},
		{name: "pending is verifiable", tx: payment(StatusPending), confirmer: owner},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckVerifiable(tc.tx, tc.confirmer)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestEvaluateVerification(t *testing.T) {
	now := time.Now()
	code := func(attempts int, expiresAt time.Time) VerificationCode {
		return VerificationCode{Code: 4321, ExpiresAt: expiresAt, AttemptsRemaining: attempts}
	}

	testCases := []struct {
		name      string
		code      VerificationCode
		submitted int
		balanceOK bool
		want      VerifyStatus
	}{
		{name: "correct active funded", code: code(3, now.Add(time.Minute)), submitted: 4321, balanceOK: true, want: VerifyDone},
		{name: "correct but expired", code: code(3, now.Add(-time.Minute)), submitted: 4321, balanceOK: true, want: VerifyCancelled},
		{name: "correct but underfunded", code: code(3, now.Add(time.Minute)), submitted: 4321, balanceOK: false, want: VerifyCancelled},
		{name: "wrong and expired cancels, not blocks", code: code(1, now.Add(-time.Minute)), submitted: 1111, balanceOK: true, want: VerifyCancelled},
		{name: "wrong with attempts left", code: code(3, now.Add(time.Minute)), submitted: 1111, balanceOK: true, want: VerifyIncorrectCode},
		{name: "wrong on last attempt", code: code(1, now.Add(time.Minute)), submitted: 1111, balanceOK: true, want: VerifyBlocked},
		{name: "expiry boundary is inclusive", code: code(3, now), submitted: 4321, balanceOK: true, want: VerifyDone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateVerification(tc.code, tc.submitted, now, tc.balanceOK)
			if got != tc.want {
				t.Fatalf("EvaluateVerification = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusForVerify(t *testing.T) {
	testCases := []struct {
		in   VerifyStatus
		want TransactionStatus
	}{
		{VerifyDone, StatusDone},
		{VerifyCancelled, StatusCancelled},
		{VerifyBlocked, StatusBlocked},
		{VerifyIncorrectCode, StatusPending},
	}
	for _, tc := range testCases {
		if got := StatusForVerify(tc.in); got != tc.want {
			t.Fatalf("StatusForVerify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBusinessErrorTaxonomy(t *testing.T) {
	if !IsBusinessError(ErrInsufficientFunds) {
		t.Fatal("sentinel should be a business error")
	}
	if IsBusinessError(errors.New("connection refused")) {
		t.Fatal("plain error should not be a business error")
	}

	// Message variants with the same code still match via errors.Is.
	variant := AccountBlocked("Your account is blocked!")
	if !errors.Is(variant, ErrAccountBlocked) {
		t.Fatal("variant wording should match canonical account_blocked")
	}

	code, ok := CodeOf(ErrNotYourTransaction)
	if !ok || code != ErrCodeNotYourTransaction {
		t.Fatalf("CodeOf = %q, %v", code, ok)
	}
}
