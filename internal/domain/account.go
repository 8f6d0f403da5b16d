/**
 * @description
 * This file defines the account model for the ledger-service. An account is the
 * unit money moves between; it is created on a user's first use and is never
 * deleted. The trading token is the bearer credential presented by API clients.
 *
 * @notes
 * - One user may own several accounts; the account service always resolves the
 *   first one by creation order.
 * - `ban` is mutated only through the administrative SetAccountBan operation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TradingTokenLength is the length of the generated bearer credential.
const TradingTokenLength = 32

// Account represents a ledger account. Balances are never stored on the
// account row; they are always derived from the transaction log.
type Account struct {
	ID           uuid.UUID `json:"id"`
	UserID       int64     `json:"user_id"`
	TradingToken string    `json:"-"`
	Ban          bool      `json:"ban"`
	CreatedAt    time.Time `json:"created_at"`
}
