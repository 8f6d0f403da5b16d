package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crownbank/ledger-service/internal/app"
	"github.com/crownbank/ledger-service/internal/store"
)

const testAdminSecret = "test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	repo := store.NewMemoryRepository()
	service := app.NewService(repo, nil, nil, "ledger.events", 3, 5*time.Minute, 0)
	handlers := NewLedgerHandlers(service)
	return LedgerRoutes(handlers, service, testAdminSecret)
}

func adminToken(t *testing.T, level int) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"level": level,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatalf("sign admin token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, router http.Handler, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			decoded = nil
		}
	}
	return rec, decoded
}

func provisionAccount(t *testing.T, router http.Handler, userID int64) (accountID, tradingToken string) {
	t.Helper()
	rec, body := doJSON(t, router, http.MethodPost, "/admin/accounts", adminToken(t, 2), map[string]interface{}{"user_id": userID})
	if rec.Code != http.StatusOK {
		t.Fatalf("provision account: status %d body %s", rec.Code, rec.Body.String())
	}
	account := body["account"].(map[string]interface{})
	return account["id"].(string), body["trading_token"].(string)
}

func TestAuthRejectsMissingAndBogusTokens(t *testing.T) {
	router := newTestRouter(t)

	rec, _ := doJSON(t, router, http.MethodGet, "/balance", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", rec.Code)
	}

	rec, body := doJSON(t, router, http.MethodGet, "/balance", "not-a-real-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: status %d", rec.Code)
	}
	if body["error"] != "The token is invalid or the account is blocked." {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestAuthRejectsBannedAccount(t *testing.T) {
	router := newTestRouter(t)
	accountID, token := provisionAccount(t, router, 1)

	rec, _ := doJSON(t, router, http.MethodPost, "/admin/ban", adminToken(t, 2), map[string]interface{}{"account_id": accountID})
	if rec.Code != http.StatusOK {
		t.Fatalf("ban: status %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/balance", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("banned account: status %d", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/admin/unban", adminToken(t, 2), map[string]interface{}{"account_id": accountID})
	if rec.Code != http.StatusOK {
		t.Fatalf("unban: status %d", rec.Code)
	}
	rec, _ = doJSON(t, router, http.MethodGet, "/balance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("after unban: status %d", rec.Code)
	}
}

func TestAdminLevelEnforcement(t *testing.T) {
	router := newTestRouter(t)

	// Level 1 may not manage accounts.
	rec, _ := doJSON(t, router, http.MethodPost, "/admin/ban", adminToken(t, 1), map[string]interface{}{"account_id": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("level 1 on ban: status %d", rec.Code)
	}

	// A token signed with the wrong secret is rejected.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"level": 2})
	forgedString, _ := forged.SignedString([]byte("wrong-secret"))
	rec, _ = doJSON(t, router, http.MethodGet, "/admin/history", forgedString, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: status %d", rec.Code)
	}

	// No auth at all.
	rec, _ = doJSON(t, router, http.MethodGet, "/admin/history", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
}

func TestTransferEndToEnd(t *testing.T) {
	router := newTestRouter(t)
	payerID, payerToken := provisionAccount(t, router, 1)
	recipientID, recipientToken := provisionAccount(t, router, 2)

	rec, body := doJSON(t, router, http.MethodPost, "/admin/emission", adminToken(t, 1), map[string]interface{}{
		"account_ids": []string{payerID},
		"amount":      500,
		"description": "Initial emission",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("emission: status %d body %s", rec.Code, rec.Body.String())
	}
	result := body["result"].(map[string]interface{})
	if result["completed"].(float64) != 1 {
		t.Fatalf("emission result = %v", result)
	}

	rec, body = doJSON(t, router, http.MethodPost, "/transfer", payerToken, map[string]interface{}{
		"account_id":  recipientID,
		"amount":      200,
		"description": "Dinner",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer: status %d body %s", rec.Code, rec.Body.String())
	}
	tx := body["transaction"].(map[string]interface{})
	if tx["status"] != "done" || tx["amount"].(float64) != 200 {
		t.Fatalf("transaction = %v", tx)
	}

	rec, body = doJSON(t, router, http.MethodGet, "/balance", recipientToken, nil)
	if rec.Code != http.StatusOK || body["balance"].(float64) != 200 {
		t.Fatalf("recipient balance: status %d body %v", rec.Code, body)
	}

	// Business rejection surfaces its code and message.
	rec, body = doJSON(t, router, http.MethodPost, "/transfer", payerToken, map[string]interface{}{
		"account_id":  recipientID,
		"amount":      10_000,
		"description": "Too much",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overdraft: status %d", rec.Code)
	}
	if body["code"] != "insufficient_funds" || body["error"] != "Insufficient funds!" {
		t.Fatalf("overdraft body = %v", body)
	}
}

func TestTransferValidation(t *testing.T) {
	router := newTestRouter(t)
	_, token := provisionAccount(t, router, 1)
	counterpartyID, _ := provisionAccount(t, router, 2)

	testCases := []struct {
		name string
		body map[string]interface{}
	}{
		{name: "bad account id", body: map[string]interface{}{"account_id": "nope", "amount": 10, "description": "x"}},
		{name: "zero amount", body: map[string]interface{}{"account_id": counterpartyID, "amount": 0, "description": "x"}},
		{name: "empty description", body: map[string]interface{}{"account_id": counterpartyID, "amount": 10, "description": ""}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := doJSON(t, router, http.MethodPost, "/transfer", token, tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
			}
			if body["code"] != "invalid_args" {
				t.Fatalf("code = %v", body["code"])
			}
		})
	}
}

func TestPaymentVerifyFlow(t *testing.T) {
	router := newTestRouter(t)
	payerID, payerToken := provisionAccount(t, router, 1)
	_, shopToken := provisionAccount(t, router, 2)

	rec, _ := doJSON(t, router, http.MethodPost, "/admin/emission", adminToken(t, 1), map[string]interface{}{
		"account_ids": []string{payerID},
		"amount":      500,
		"description": "Initial emission",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("emission: status %d", rec.Code)
	}

	// The shop charges the payer.
	rec, body := doJSON(t, router, http.MethodPost, "/payment", shopToken, map[string]interface{}{
		"account_id":  payerID,
		"amount":      200,
		"description": "Goods",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: status %d body %s", rec.Code, rec.Body.String())
	}
	tx := body["transaction"].(map[string]interface{})
	if tx["status"] != "pending" {
		t.Fatalf("payment status = %v", tx["status"])
	}
	transactionID := tx["id"].(string)

	// The payer reads the code from their code list.
	rec, body = doJSON(t, router, http.MethodGet, "/codes", payerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("codes: status %d", rec.Code)
	}
	codes := body["codes"].([]interface{})
	if len(codes) != 1 {
		t.Fatalf("codes = %v", codes)
	}
	code := int(codes[0].(map[string]interface{})["code"].(float64))

	// The shop verifies with it.
	rec, body = doJSON(t, router, http.MethodPost, "/verify", shopToken, map[string]interface{}{
		"transaction_id": transactionID,
		"code":           code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "done" {
		t.Fatalf("verify status = %v", body["status"])
	}

	rec, body = doJSON(t, router, http.MethodGet, "/balance", payerToken, nil)
	if rec.Code != http.StatusOK || body["balance"].(float64) != 300 {
		t.Fatalf("payer balance: %v", body)
	}

	// The transaction is visible to both parties via the lookup endpoint.
	rec, body = doJSON(t, router, http.MethodGet, "/transaction?id="+transactionID, payerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transaction lookup: status %d", rec.Code)
	}
	if body["transaction"].(map[string]interface{})["status"] != "done" {
		t.Fatalf("transaction = %v", body["transaction"])
	}
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	router := newTestRouter(t)
	_, token := provisionAccount(t, router, 1)

	rec, body := doJSON(t, router, http.MethodPost, "/verify", token, map[string]interface{}{
		"transaction_id": "00000000-0000-0000-0000-000000000000",
		"code":           99,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", rec.Code)
	}
	if body["code"] != "invalid_args" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestTransactionsPaging(t *testing.T) {
	router := newTestRouter(t)
	accountID, token := provisionAccount(t, router, 1)

	for i := 0; i < 3; i++ {
		rec, _ := doJSON(t, router, http.MethodPost, "/admin/emission", adminToken(t, 1), map[string]interface{}{
			"account_ids": []string{accountID},
			"amount":      i + 1,
			"description": fmt.Sprintf("Emission %d", i+1),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("emission %d: status %d", i, rec.Code)
		}
	}

	rec, body := doJSON(t, router, http.MethodGet, "/transactions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions: status %d", rec.Code)
	}
	txs := body["transactions"].([]interface{})
	if len(txs) != 3 {
		t.Fatalf("len(transactions) = %d", len(txs))
	}
	if txs[0].(map[string]interface{})["amount"].(float64) != 3 {
		t.Fatalf("expected newest first, got %v", txs[0])
	}

	rec, body = doJSON(t, router, http.MethodGet, "/admin/history", adminToken(t, 1), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status %d", rec.Code)
	}
	if len(body["transactions"].([]interface{})) != 3 {
		t.Fatalf("history = %v", body["transactions"])
	}
}

func TestBatchEmissionReportsFailures(t *testing.T) {
	router := newTestRouter(t)
	goodID, _ := provisionAccount(t, router, 1)

	rec, body := doJSON(t, router, http.MethodPost, "/admin/emission", adminToken(t, 1), map[string]interface{}{
		"account_ids": []string{goodID, "11111111-1111-1111-1111-111111111111"},
		"amount":      100,
		"description": "Airdrop",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("emission: status %d body %s", rec.Code, rec.Body.String())
	}
	result := body["result"].(map[string]interface{})
	if result["completed"].(float64) != 1 {
		t.Fatalf("completed = %v", result["completed"])
	}
	failed := result["failed"].([]interface{})
	if len(failed) != 1 {
		t.Fatalf("failed = %v", failed)
	}
	if failed[0].(map[string]interface{})["message"] != "Account doesn't exist." {
		t.Fatalf("failure message = %v", failed[0])
	}
}
