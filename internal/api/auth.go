package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maltedev/uniscrape/internal/apperr"
)

type ctxKey int

const userIDKey ctxKey = iota

// TokenService signs and verifies HS256 bearer tokens whose subject is the
// user id.
type TokenService struct {
	Secret   []byte
	Issuer   string
	Duration time.Duration
}

func (ts TokenService) Sign(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("sign token: empty user id")
	}
	now := time.Now()
	exp := now.Add(ts.Duration)

	claims := jwt.RegisteredClaims{
		Issuer:    ts.Issuer,
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

// Parse returns the user id carried by a valid token.
func (ts TokenService) Parse(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if ts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.Issuer))
	}

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return ts.Secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !tok.Valid || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// token's user id in the request context.
func (h *Handlers) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.respondErr(w, r, apperr.New(apperr.KindAuth, "api", "missing bearer token"))
			return
		}

		userID, err := h.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			h.logger.Debug("rejected bearer token", "error", err)
			h.respondErr(w, r, apperr.New(apperr.KindAuth, "api", "invalid bearer token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// UserID returns the authenticated user id, or "" outside RequireUser.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
