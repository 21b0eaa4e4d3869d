package service

import (
	"context"
	"errors"
	"strings"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// LoginResult holds either a token pair or a challenge the caller must
// sign before retrying.
type LoginResult struct {
	Tokens    *TokenPair
	Challenge *models.Challenge
}

// LoginService implements the wallet and Telegram login flows
type LoginService struct {
	users      repository.UserStore
	addresses  repository.AddressStore
	secrets    repository.SecretStore
	resolver   *identity.Resolver
	challenges *ChallengeService
	issuer     *TokenIssuer
	telegram   auth.TelegramValidator
	isStaging  bool
	log        *zap.Logger
}

// NewLoginService creates a login service. With isStaging set, wallet
// logins skip signature checks.
func NewLoginService(
	users repository.UserStore,
	addresses repository.AddressStore,
	secrets repository.SecretStore,
	resolver *identity.Resolver,
	challenges *ChallengeService,
	issuer *TokenIssuer,
	telegram auth.TelegramValidator,
	isStaging bool,
	log *zap.Logger,
) *LoginService {
	return &LoginService{
		users:      users,
		addresses:  addresses,
		secrets:    secrets,
		resolver:   resolver,
		challenges: challenges,
		issuer:     issuer,
		telegram:   telegram,
		isStaging:  isStaging,
		log:        log,
	}
}

// LoginWithAddress logs in with a wallet address. An unknown address gets
// a challenge back; a known Ethereum address must sign its live challenge.
func (s *LoginService) LoginWithAddress(ctx context.Context, publicAddress, signature string) (*LoginResult, error) {
	publicAddress = identity.NormalizeAddress(publicAddress)
	if publicAddress == "" {
		return nil, apperr.BadRequest("publicAddress is required")
	}

	_, err := s.addresses.GetAddress(ctx, publicAddress)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if !s.isStaging {
			c, err := s.challenges.CreateChallenge(ctx, publicAddress)
			if err != nil {
				return nil, err
			}
			return &LoginResult{Challenge: c}, nil
		}
	case err != nil:
		return nil, apperr.Internal("failed to load address", err)
	default:
		if !s.isStaging && identity.IsEthereumAddress(publicAddress) {
			if strings.TrimSpace(signature) == "" {
				return nil, apperr.BadRequest("signature is required")
			}
			if err := s.challenges.VerifyActiveChallenge(ctx, publicAddress, signature); err != nil {
				return nil, err
			}
		}
	}

	user, err := s.addressOwner(ctx, publicAddress)
	if err != nil {
		return nil, err
	}
	if _, err := s.addresses.ClaimAddress(ctx, publicAddress, user.ID); err != nil {
		return nil, apperr.Internal("failed to link address", err)
	}

	s.log.Info("address login", zap.String("user_id", user.ID), zap.String("public_address", publicAddress))

	pair, err := s.issuer.Issue(ctx, auth.PrincipalFromUser(user, publicAddress))
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: pair}, nil
}

// addressOwner returns the first active owner of address, creating a new
// account when there is none.
func (s *LoginService) addressOwner(ctx context.Context, address string) (*models.User, error) {
	if u := s.resolver.FindUser(ctx, identity.Query{PublicAddress: address}); u != nil {
		return u, nil
	}

	user := &models.User{Role: models.RoleUser, IsActive: true}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, apperr.Internal("failed to create user", err)
	}
	s.log.Info("user created from address", zap.String("user_id", user.ID))
	return user, nil
}

// LoginWithTelegram logs in with Mini App init-data, registering the
// Telegram user on first login.
func (s *LoginService) LoginWithTelegram(ctx context.Context, initData string) (*TokenPair, error) {
	if strings.TrimSpace(initData) == "" {
		return nil, apperr.Unauthorized("telegram init data is required")
	}
	data, err := s.telegram.Validate(initData)
	if err != nil {
		s.log.Debug("telegram login rejected", zap.Error(err))
		return nil, apperr.Unauthorized("invalid telegram data")
	}

	user, err := s.users.FindActiveUserByTelegramID(ctx, data.TelegramID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		user, err = s.registerTelegramUser(ctx, data)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, apperr.Internal("failed to load user", err)
	default:
		s.refreshTelegramProfile(ctx, user, data)
	}

	if user.Username != "" {
		tryNonCritical(s.log, "claim pending shares", func() error {
			_, err := s.secrets.ClaimShares(ctx, user.Username, user.ID)
			return err
		})
	}

	return s.issuer.Issue(ctx, auth.PrincipalFromUser(user, ""))
}

func (s *LoginService) registerTelegramUser(ctx context.Context, data *auth.TelegramData) (*models.User, error) {
	user := &models.User{
		TelegramID: data.TelegramID,
		Username:   s.freeUsername(ctx, data.Username, ""),
		FirstName:  data.FirstName,
		LastName:   data.LastName,
		PhotoURL:   data.PhotoURL,
		Role:       models.RoleUser,
		IsActive:   true,
	}

	err := s.users.CreateUser(ctx, user)
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		// the Telegram id belongs to a deactivated account
		return nil, apperr.Unauthorized("account deactivated")
	}
	if err != nil {
		return nil, apperr.Internal("failed to create user", err)
	}

	s.log.Info("user registered via telegram", zap.String("user_id", user.ID), zap.String("telegram_id", user.TelegramID))
	return user, nil
}

// refreshTelegramProfile copies the latest Telegram profile onto user
func (s *LoginService) refreshTelegramProfile(ctx context.Context, user *models.User, data *auth.TelegramData) {
	changed := false
	if user.Username == "" {
		if name := s.freeUsername(ctx, data.Username, user.ID); name != "" {
			user.Username = name
			changed = true
		}
	}
	if data.FirstName != user.FirstName || data.LastName != user.LastName || data.PhotoURL != user.PhotoURL {
		user.FirstName, user.LastName, user.PhotoURL = data.FirstName, data.LastName, data.PhotoURL
		changed = true
	}
	if changed {
		tryNonCritical(s.log, "refresh telegram profile", func() error {
			return s.users.UpdateUserProfile(ctx, user)
		})
	}
}

// freeUsername normalizes username and returns "" when another active user
// already holds it.
func (s *LoginService) freeUsername(ctx context.Context, username, selfID string) string {
	username = identity.NormalizeUsername(username)
	if username == "" {
		return ""
	}
	existing, err := s.users.FindActiveUserByUsername(ctx, username)
	if err == nil && existing.ID != selfID {
		return ""
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("username lookup failed", zap.String("username", username), zap.Error(err))
		return ""
	}
	return username
}

// Refresh exchanges a refresh token for a new pair
func (s *LoginService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperr.BadRequest("refreshToken is required")
	}
	return s.issuer.Refresh(ctx, refreshToken)
}
