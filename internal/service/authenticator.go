package service

import (
	"context"
	"strings"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"

	"go.uber.org/zap"
)

// Authenticator turns request credentials into an auth.Outcome. A bearer
// token wins over Telegram init-data when both are sent.
type Authenticator struct {
	tokens   *auth.TokenService
	telegram auth.TelegramValidator
	users    identity.UserLookup
	log      *zap.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(tokens *auth.TokenService, telegram auth.TelegramValidator, users identity.UserLookup, log *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, telegram: telegram, users: users, log: log}
}

// Authenticate resolves the Authorization header value and the raw
// Telegram init-data header value. Every failure is Unauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, authorization, initData string) (auth.Outcome, error) {
	if token, ok := bearerToken(authorization); ok {
		if token == "" {
			return nil, apperr.Unauthorized("malformed authorization header")
		}
		return a.fromJWT(ctx, token)
	}
	if strings.TrimSpace(initData) != "" {
		return a.fromTelegram(ctx, initData)
	}
	return nil, apperr.Unauthorized("authentication required: provide JWT or Telegram data")
}

func (a *Authenticator) fromJWT(ctx context.Context, token string) (auth.Outcome, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		a.log.Debug("jwt rejected", zap.Error(err))
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	if claims.Type == auth.TokenRefresh {
		return nil, apperr.Unauthorized("refresh token cannot be used for authentication")
	}

	user, err := a.users.FindActiveUserByID(ctx, claims.Subject)
	if err != nil {
		a.log.Debug("jwt user lookup failed", zap.String("user_id", claims.Subject), zap.Error(err))
		return nil, apperr.Unauthorized("user not found or inactive")
	}

	return auth.JWTOutcome{
		User:   auth.PrincipalFromUser(user, claims.PublicAddress),
		Claims: claims,
	}, nil
}

func (a *Authenticator) fromTelegram(ctx context.Context, initData string) (auth.Outcome, error) {
	data, err := a.telegram.Validate(initData)
	if err != nil {
		a.log.Debug("telegram init data rejected", zap.Error(err))
		return nil, apperr.Unauthorized("invalid telegram data")
	}

	user, err := a.users.FindActiveUserByTelegramID(ctx, data.TelegramID)
	if err != nil {
		a.log.Debug("telegram user lookup failed", zap.String("telegram_id", data.TelegramID), zap.Error(err))
		return nil, apperr.Unauthorized("telegram user not registered or inactive")
	}

	return auth.TelegramOutcome{
		User: auth.PrincipalFromUser(user, ""),
		Data: data,
	}, nil
}

// bearerToken reports whether header uses the Bearer scheme. The token is
// empty when the header is malformed.
func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) == 0 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	if len(parts) != 2 {
		return "", true
	}
	return parts[1], true
}
