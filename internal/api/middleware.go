/**
 * @description
 * This file contains custom middleware for the HTTP router. Two authentication
 * schemes are supported: trading-token auth for account holders, and HMAC JWT
 * auth with a level claim for the administrative surface.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation for admin tokens.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crownbank/ledger-service/internal/app"
	"github.com/crownbank/ledger-service/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	accountContextKey    contextKey = "account"
	adminLevelContextKey contextKey = "adminLevel"
)

// AccountFromContext returns the authenticated account stored by
// TradingTokenAuthMiddleware.
func AccountFromContext(ctx context.Context) (*domain.Account, bool) {
	account, ok := ctx.Value(accountContextKey).(*domain.Account)
	return account, ok
}

// TradingTokenAuthMiddleware authenticates requests by their trading token.
// The token is taken from the Authorization header, with or without a Bearer
// prefix. Banned accounts are rejected the same way unknown tokens are, so
// the response does not reveal which of the two applies.
func TradingTokenAuthMiddleware(service *app.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required.")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			account, err := service.AccountByTradingToken(r.Context(), token)
			if err != nil || account.Ban {
				writeError(w, http.StatusUnauthorized, "unauthorized", "The token is invalid or the account is blocked.")
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuthMiddleware validates an HMAC-signed JWT and enforces a minimum
// admin level carried in the `level` claim. Level 1 may issue emissions and
// commissions; level 2 additionally manages account bans.
func AdminAuthMiddleware(secret string, minLevel int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required.")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format.")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token.")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token claims.")
				return
			}
			levelClaim, ok := claims["level"].(float64)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Admin level not found in token.")
				return
			}
			level := int(levelClaim)
			if level < minLevel {
				writeError(w, http.StatusForbidden, "forbidden", "Insufficient admin level.")
				return
			}

			ctx := context.WithValue(r.Context(), adminLevelContextKey, level)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
