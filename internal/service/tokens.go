package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const defaultExpiresIn = 900

var expiresInRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseExpiresIn converts "<n><s|m|h|d>" to seconds, defaulting to 15 minutes
func ParseExpiresIn(s string) int64 {
	m := expiresInRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return defaultExpiresIn
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return defaultExpiresIn
	}
	switch m[2] {
	case "m":
		n *= 60
	case "h":
		n *= 3600
	case "d":
		n *= 86400
	}
	return n
}

// TokenPair is the response of every successful login or refresh
type TokenPair struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    int64          `json:"expires_in"`
	TokenType    string         `json:"token_type"`
	User         auth.Principal `json:"user"`
}

// TokenIssuer mints access/refresh pairs for principals
type TokenIssuer struct {
	tokens     *auth.TokenService
	users      repository.UserStore
	resolver   *identity.Resolver
	accessTTL  int64
	refreshTTL int64
	log        *zap.Logger
}

// NewTokenIssuer creates a token issuer. Lifetimes use the ParseExpiresIn format.
func NewTokenIssuer(
	tokens *auth.TokenService,
	users repository.UserStore,
	resolver *identity.Resolver,
	accessExpiresIn, refreshExpiresIn string,
	log *zap.Logger,
) *TokenIssuer {
	return &TokenIssuer{
		tokens:     tokens,
		users:      users,
		resolver:   resolver,
		accessTTL:  ParseExpiresIn(accessExpiresIn),
		refreshTTL: ParseExpiresIn(refreshExpiresIn),
		log:        log,
	}
}

// Issue signs a fresh pair for p, resolving its public address if missing
func (s *TokenIssuer) Issue(ctx context.Context, p auth.Principal) (*TokenPair, error) {
	p.PublicAddress = principalAddress(ctx, s.resolver, p)

	access, err := s.tokens.Sign(auth.Claims{
		TelegramID:       p.TelegramID,
		Username:         p.Username,
		PublicAddress:    p.PublicAddress,
		Role:             string(p.Role),
		Type:             auth.TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.ID},
	}, time.Duration(s.accessTTL)*time.Second)
	if err != nil {
		return nil, apperr.Internal("failed to sign access token", err)
	}

	refresh, err := s.tokens.Sign(auth.Claims{
		TelegramID:       p.TelegramID,
		Username:         p.Username,
		Type:             auth.TokenRefresh,
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.ID},
	}, time.Duration(s.refreshTTL)*time.Second)
	if err != nil {
		return nil, apperr.Internal("failed to sign refresh token", err)
	}

	tryNonCritical(s.log, "touch user", func() error {
		return s.users.TouchUser(ctx, p.ID)
	})

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.accessTTL,
		TokenType:    "Bearer",
		User:         p,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The user must still be active.
func (s *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken)
	if err != nil {
		s.log.Debug("refresh token rejected", zap.Error(err))
		return nil, apperr.Unauthorized("invalid or expired refresh token")
	}
	if claims.Type != auth.TokenRefresh {
		return nil, apperr.Unauthorized("invalid token type")
	}

	user, err := s.users.FindActiveUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, apperr.Unauthorized("user not found or inactive")
	}

	return s.Issue(ctx, auth.PrincipalFromUser(user, ""))
}
