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

// Profile is the caller's own account with its latest address
type Profile struct {
	*models.User
	PublicAddress string `json:"publicAddress,omitempty"`
}

// UpdateProfileInput holds optional profile changes
type UpdateProfileInput struct {
	Username    *string
	FirstName   *string
	LastName    *string
	PrivacyMode *bool
}

// UserService handles profile and account management
type UserService struct {
	users    repository.UserStore
	secrets  repository.SecretStore
	resolver *identity.Resolver
	log      *zap.Logger
}

// NewUserService creates a user service
func NewUserService(users repository.UserStore, secrets repository.SecretStore, resolver *identity.Resolver, log *zap.Logger) *UserService {
	return &UserService{
		users:    users,
		secrets:  secrets,
		resolver: resolver,
		log:      log,
	}
}

// Me returns the caller's profile
func (s *UserService) Me(ctx context.Context, p auth.Principal) (*Profile, error) {
	user, err := s.users.FindActiveUserByID(ctx, p.ID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	return &Profile{User: user, PublicAddress: principalAddress(ctx, s.resolver, p)}, nil
}

// UpdateMe changes the caller's profile. Usernames are unique among active
// users; taking a new username claims shares waiting for it.
func (s *UserService) UpdateMe(ctx context.Context, p auth.Principal, in UpdateProfileInput) (*Profile, error) {
	user, err := s.users.FindActiveUserByID(ctx, p.ID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}

	usernameChanged := false
	if in.Username != nil {
		username := identity.NormalizeUsername(*in.Username)
		if username == "" {
			return nil, apperr.BadRequest("username cannot be empty")
		}
		if identity.IsPublicAddress(username) || identity.IsUserID(username) {
			return nil, apperr.BadRequest("username cannot look like an address or user id")
		}
		if username != user.Username {
			existing, err := s.users.FindActiveUserByUsername(ctx, username)
			if err == nil && existing.ID != user.ID {
				return nil, apperr.Conflict("username '" + username + "' is already taken")
			}
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.Internal("failed to check username", err)
			}
			user.Username = username
			usernameChanged = true
		}
	}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.PrivacyMode != nil {
		user.PrivacyMode = *in.PrivacyMode
	}

	if err := s.users.UpdateUserProfile(ctx, user); err != nil {
		return nil, storeErr(err, "user not found")
	}

	if usernameChanged {
		tryNonCritical(s.log, "claim pending shares", func() error {
			n, err := s.secrets.ClaimShares(ctx, user.Username, user.ID)
			if n > 0 {
				s.log.Info("pending shares claimed", zap.String("user_id", user.ID), zap.Int64("secrets", n))
			}
			return err
		})
	}

	return &Profile{User: user, PublicAddress: principalAddress(ctx, s.resolver, p)}, nil
}

// Search finds users by username, user id or public address. Address-like
// queries return every co-owner of the address.
func (s *UserService) Search(ctx context.Context, query string) ([]models.UserFoundInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.BadRequest("query is required")
	}

	if identity.IsPublicAddress(query) {
		return s.resolver.FindUsersByPublicAddress(ctx, query), nil
	}

	q := identity.Query{Username: query}
	if identity.IsUserID(query) {
		q = identity.Query{UserID: query}
	}
	if info := s.resolver.FindUserByAnyInfo(ctx, q); info != nil {
		return []models.UserFoundInfo{*info}, nil
	}
	return []models.UserFoundInfo{}, nil
}

// SetActive activates or deactivates an account
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.users.SetUserActive(ctx, id, active); err != nil {
		return storeErr(err, "user not found")
	}
	s.log.Info("user activation changed", zap.String("user_id", id), zap.Bool("active", active))
	return nil
}
