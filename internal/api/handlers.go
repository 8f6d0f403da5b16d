/**
 * @description
 * This file contains the HTTP handlers for the account-facing API endpoints.
 * Handlers parse incoming requests, call the application service and write the
 * JSON response envelope. Business rejections map to their error codes; the
 * envelope is {"state":"success", ...} or {"state":"error","code":...,"error":...}.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/crownbank/ledger-service/internal/app"
	"github.com/crownbank/ledger-service/internal/domain"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates the handler set around the application service.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

type accountResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Ban       bool      `json:"ban"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionResponse struct {
	ID          uuid.UUID  `json:"id"`
	FromID      *uuid.UUID `json:"from_id,omitempty"`
	ToID        *uuid.UUID `json:"to_id,omitempty"`
	Amount      int64      `json:"amount"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

type codeResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Code          int       `json:"code"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func buildTransactionResponse(tx *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		FromID:      tx.FromID,
		ToID:        tx.ToID,
		Amount:      tx.Amount,
		Type:        string(tx.Type),
		Description: tx.Description,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt,
	}
}

func buildTransactionResponses(txs []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, len(txs))
	for i := range txs {
		out[i] = buildTransactionResponse(&txs[i])
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload["state"] == nil {
		payload["state"] = "success"
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"state": "error",
		"code":  code,
		"error": message,
	})
}

// writeServiceError maps an error from the service layer onto the response
// envelope: business rejections keep their code and message with a 400, rate
// limiting maps to 429, everything else is an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if code, ok := domain.CodeOf(err); ok {
		writeError(w, http.StatusBadRequest, string(code), err.Error())
		return
	}
	log.Printf("level=error component=api msg=\"internal error\" err=%v", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error.")
}

// GetAccountHandler returns the authenticated account.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": accountResponse{ID: account.ID, UserID: account.UserID, Ban: account.Ban, CreatedAt: account.CreatedAt},
	})
}

// GetBalanceHandler returns the authenticated account's balance.
func (h *LedgerHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	balance, err := h.service.Balance(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balance": balance})
}

// GetCodesHandler returns the active verification codes of the account's
// pending payments.
func (h *LedgerHandlers) GetCodesHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	codes, err := h.service.ActiveCodes(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]codeResponse, len(codes))
	for i, c := range codes {
		out[i] = codeResponse{TransactionID: c.TransactionID, Code: c.Code, ExpiresAt: c.ExpiresAt}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"codes": out})
}

// GetTransactionHandler returns one transaction touching the authenticated
// account, addressed by the id query parameter.
func (h *LedgerHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	transactionID, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", "A valid transaction id is required.")
		return
	}
	tx, err := h.service.TransactionForAccount(r.Context(), account.ID, transactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": buildTransactionResponse(tx)})
}

// GetTransactionsHandler returns one page of the account's history, newest
// first. The page query parameter is zero-based.
func (h *LedgerHandlers) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid_args", "The page parameter must be a non-negative integer.")
			return
		}
		page = parsed
	}
	txs, err := h.service.Transactions(r.Context(), account.ID, page*app.DefaultHistoryLimit, app.DefaultHistoryLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": buildTransactionResponses(txs)})
}

type transferRequest struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (req *transferRequest) validate() (uuid.UUID, string, bool) {
	counterparty, err := uuid.Parse(req.AccountID)
	if err != nil {
		return uuid.Nil, "A valid account_id is required.", false
	}
	if req.Amount < 1 {
		return uuid.Nil, "The amount must be at least 1.", false
	}
	if req.Description == "" {
		return uuid.Nil, "A description is required.", false
	}
	return counterparty, "", true
}

// TransferHandler moves funds from the authenticated account to account_id.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	toID, message, ok := req.validate()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", message)
		return
	}

	tx, err := h.service.Transfer(r.Context(), account.ID, toID, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": buildTransactionResponse(tx)})
}

// PaymentHandler opens a pending payment charging account_id in favor of the
// authenticated account. The verification code goes to the payer, not to the
// caller.
func (h *LedgerHandlers) PaymentHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	fromID, message, ok := req.validate()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", message)
		return
	}

	tx, err := h.service.Payment(r.Context(), fromID, account.ID, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": buildTransactionResponse(tx)})
}

type verifyRequest struct {
	TransactionID string `json:"transaction_id"`
	Code          int    `json:"code"`
}

// VerifyHandler submits one verification attempt for a pending payment owned
// by the authenticated account.
func (h *LedgerHandlers) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	transactionID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", "A valid transaction_id is required.")
		return
	}
	if req.Code < 1000 || req.Code > 9999 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", "The code must be a four digit number.")
		return
	}

	status, retryAfter, err := h.service.VerifyPayment(r.Context(), account.ID, transactionID, req.Code)
	if err != nil {
		if errors.Is(err, app.ErrVerifyRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many verification attempts. Try again later.")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": string(status)})
}
