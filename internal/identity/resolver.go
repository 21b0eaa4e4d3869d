package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// UserLookup is the read side of the user store needed for resolution.
// Every method only returns active users.
type UserLookup interface {
	FindActiveUserByID(ctx context.Context, id string) (*models.User, error)
	FindActiveUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindActiveUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error)
}

// AddressLookup is the read side of the address store needed for resolution
type AddressLookup interface {
	GetAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error)
	LatestAddressForUser(ctx context.Context, userID string) (*models.PublicAddress, error)
}

// Query carries whichever identifiers the caller knows about a user
type Query struct {
	UserID        string
	Username      string
	TelegramID    string
	PublicAddress string
}

// Resolver finds the canonical user behind any identifier. It never returns
// errors: failed lookups are logged and treated as misses so callers decide
// what a missing identity means for them.
type Resolver struct {
	users     UserLookup
	addresses AddressLookup
	log       *zap.Logger
}

// NewResolver creates a Resolver
func NewResolver(users UserLookup, addresses AddressLookup, log *zap.Logger) *Resolver {
	return &Resolver{users: users, addresses: addresses, log: log}
}

// FindUser returns the first active user matching q, trying user id,
// username, Telegram id and public address in that order.
func (r *Resolver) FindUser(ctx context.Context, q Query) *models.User {
	if q.UserID != "" && IsUserID(q.UserID) {
		if u := r.lookup(ctx, "user_id", func() (*models.User, error) {
			return r.users.FindActiveUserByID(ctx, q.UserID)
		}); u != nil {
			return u
		}
	}

	if username := NormalizeUsername(q.Username); username != "" {
		if u := r.lookup(ctx, "username", func() (*models.User, error) {
			return r.users.FindActiveUserByUsername(ctx, username)
		}); u != nil {
			return u
		}
	}

	if q.TelegramID != "" {
		for _, candidate := range telegramIDCandidates(q.TelegramID) {
			if u := r.lookup(ctx, "telegram_id", func() (*models.User, error) {
				return r.users.FindActiveUserByTelegramID(ctx, candidate)
			}); u != nil {
				return u
			}
		}
	}

	if q.PublicAddress != "" {
		if owners := r.addressOwners(ctx, q.PublicAddress); len(owners) > 0 {
			return owners[0]
		}
	}

	return nil
}

// FindUserByAnyInfo resolves q to a flattened identity carrying the user's
// latest public address. Returns nil when nothing matches.
func (r *Resolver) FindUserByAnyInfo(ctx context.Context, q Query) *models.UserFoundInfo {
	u := r.FindUser(ctx, q)
	if u == nil {
		return nil
	}
	info := r.Info(ctx, u)
	return &info
}

// FindUsersByPublicAddress returns every active co-owner of address, each
// with their own latest address.
func (r *Resolver) FindUsersByPublicAddress(ctx context.Context, address string) []models.UserFoundInfo {
	owners := r.addressOwners(ctx, address)
	result := make([]models.UserFoundInfo, 0, len(owners))
	for _, u := range owners {
		result = append(result, r.Info(ctx, u))
	}
	return result
}

// LatestPublicAddress returns the most recently touched address owned by
// userID, or "" if the user has none.
func (r *Resolver) LatestPublicAddress(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	addr, err := r.addresses.LatestAddressForUser(ctx, userID)
	if err != nil {
		r.logFailure("latest_address", err)
		return ""
	}
	return addr.PublicKey
}

// Info flattens u and resolves its latest address
func (r *Resolver) Info(ctx context.Context, u *models.User) models.UserFoundInfo {
	return models.UserFoundInfo{
		UserID:        u.ID,
		Username:      u.Username,
		TelegramID:    u.TelegramID,
		PublicAddress: r.LatestPublicAddress(ctx, u.ID),
	}
}

func (r *Resolver) addressOwners(ctx context.Context, address string) []*models.User {
	addr, err := r.addresses.GetAddress(ctx, NormalizeAddress(address))
	if err != nil {
		r.logFailure("public_address", err)
		return nil
	}

	var owners []*models.User
	for _, id := range addr.UserIDs {
		if u := r.lookup(ctx, "address_owner", func() (*models.User, error) {
			return r.users.FindActiveUserByID(ctx, id)
		}); u != nil {
			owners = append(owners, u)
		}
	}
	return owners
}

func (r *Resolver) lookup(ctx context.Context, by string, find func() (*models.User, error)) *models.User {
	u, err := find()
	if err != nil {
		r.logFailure(by, err)
		return nil
	}
	return u
}

func (r *Resolver) logFailure(by string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	r.log.Warn("identity lookup failed", zap.String("by", by), zap.Error(err))
}

// telegramIDCandidates lists the spellings a stored Telegram id may have:
// the literal value, the trimmed string and the canonical integer form.
func telegramIDCandidates(raw string) []string {
	candidates := []string{raw}
	add := func(s string) {
		for _, c := range candidates {
			if c == s {
				return
			}
		}
		candidates = append(candidates, s)
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		add(trimmed)
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		add(strconv.FormatInt(n, 10))
	} else if f, err := strconv.ParseFloat(trimmed, 64); err == nil && f == float64(int64(f)) {
		add(strconv.FormatInt(int64(f), 10))
	}
	return candidates
}

// NormalizeAddress trims address and lowercases Ethereum addresses so the
// stored form is canonical.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if IsEthereumAddress(address) {
		return strings.ToLower(address)
	}
	return address
}
