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

// tryNonCritical runs a side step whose failure must never abort the
// caller. Errors are logged at Warn with the operation name.
func tryNonCritical(log *zap.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("non-critical operation failed", zap.String("op", op), zap.Error(err))
	}
}

// storeErr maps repository errors to the application taxonomy
func storeErr(err error, notFound string) error {
	var conflict *repository.ConflictError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.As(err, &conflict):
		return apperr.Conflict(conflict.Error())
	default:
		return apperr.Internal("storage failure", err)
	}
}

// principalAddress returns the caller's public address, resolving it through
// the Telegram id and then the user id when the principal carries none.
func principalAddress(ctx context.Context, r *identity.Resolver, p auth.Principal) string {
	if p.PublicAddress != "" {
		return p.PublicAddress
	}
	if p.TelegramID != "" {
		if info := r.FindUserByAnyInfo(ctx, identity.Query{TelegramID: p.TelegramID}); info != nil && info.PublicAddress != "" {
			return info.PublicAddress
		}
	}
	return r.LatestPublicAddress(ctx, p.ID)
}

// matchesRecipient reports whether e names the user with the given
// identifiers. address may be empty.
func matchesRecipient(e models.ShareEntry, userID, username, address string) bool {
	return (e.UserID != "" && e.UserID == userID) ||
		(e.Username != "" && username != "" && strings.EqualFold(e.Username, username)) ||
		(e.PublicAddress != "" && identity.SameAddress(e.PublicAddress, address))
}

// displayName is how a user is named in notifications
func displayName(username, firstName string) string {
	if username != "" {
		return "@" + username
	}
	if firstName != "" {
		return firstName
	}
	return "Someone"
}
