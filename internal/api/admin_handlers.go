/**
 * @description
 * This file contains the HTTP handlers for the administrative API surface:
 * batch emission and commission, account provisioning and ban management, and
 * the paginated full ledger history. All routes here sit behind the admin JWT
 * middleware; level 1 covers money issuance, level 2 covers account control.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - internal/app: For service logic.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// adminHistoryLimit is the page size of the full ledger history endpoint.
const adminHistoryLimit = 50

type batchIssueRequest struct {
	AccountIDs  []string `json:"account_ids"`
	Amount      int64    `json:"amount"`
	Description string   `json:"description"`
}

func (req *batchIssueRequest) validate() ([]uuid.UUID, string, bool) {
	if len(req.AccountIDs) == 0 {
		return nil, "At least one account_id is required.", false
	}
	if req.Amount < 1 {
		return nil, "The amount must be at least 1.", false
	}
	if req.Description == "" {
		return nil, "A description is required.", false
	}
	ids := make([]uuid.UUID, len(req.AccountIDs))
	for i, raw := range req.AccountIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, "account_ids must be valid ids.", false
		}
		ids[i] = id
	}
	return ids, "", true
}

// BatchEmissionHandler credits every listed account, reporting per-item
// business rejections in the response.
func (h *LedgerHandlers) BatchEmissionHandler(w http.ResponseWriter, r *http.Request) {
	var req batchIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	ids, message, ok := req.validate()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", message)
		return
	}

	result, err := h.service.BatchEmission(r.Context(), ids, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// BatchCommissionHandler debits every listed account the same way
// BatchEmissionHandler credits them.
func (h *LedgerHandlers) BatchCommissionHandler(w http.ResponseWriter, r *http.Request) {
	var req batchIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	ids, message, ok := req.validate()
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", message)
		return
	}

	result, err := h.service.BatchCommission(r.Context(), ids, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

type provisionAccountRequest struct {
	UserID int64 `json:"user_id"`
}

// ProvisionAccountHandler returns the user's primary account, creating it on
// first contact. This is the only endpoint that reveals the trading token.
func (h *LedgerHandlers) ProvisionAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req provisionAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", "A user_id is required.")
		return
	}

	account, err := h.service.GetOrCreateAccount(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": accountResponse{ID: account.ID, UserID: account.UserID, Ban: account.Ban, CreatedAt: account.CreatedAt},
		// The trading token is excluded from the account's JSON form, so it
		// is handed out explicitly here.
		"trading_token": account.TradingToken,
	})
}

type banRequest struct {
	AccountID string `json:"account_id"`
}

func (h *LedgerHandlers) setBan(w http.ResponseWriter, r *http.Request, ban bool) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body.")
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_args", "A valid account_id is required.")
		return
	}

	changed, err := h.service.SetAccountBan(r.Context(), accountID, ban)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"changed": changed})
}

// BanAccountHandler bans an account. Unknown accounts report changed=false.
func (h *LedgerHandlers) BanAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.setBan(w, r, true)
}

// UnbanAccountHandler lifts an account's ban.
func (h *LedgerHandlers) UnbanAccountHandler(w http.ResponseWriter, r *http.Request) {
	h.setBan(w, r, false)
}

// HistoryHandler returns one page of the whole ledger, newest first.
func (h *LedgerHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "invalid_args", "The page parameter must be a non-negative integer.")
			return
		}
		page = parsed
	}

	txs, err := h.service.AllTransactions(r.Context(), page*adminHistoryLimit, adminHistoryLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": buildTransactionResponses(txs)})
}
