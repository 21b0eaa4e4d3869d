package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"secretshare-backend/internal/models"
)

// ErrNotFound is returned when the requested document does not exist
var ErrNotFound = errors.New("not found")

// ConflictError reports a unique-key violation in human-readable form
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s already exists", e.Field)
	}
	return fmt.Sprintf("%s '%s' already exists", e.Field, e.Value)
}

// UserStore defines user persistence. The FindActive* methods ignore
// deactivated users; GetUserByID does not.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	FindActiveUserByID(ctx context.Context, id string) (*models.User, error)
	FindActiveUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindActiveUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, user *models.User) error
	TouchUser(ctx context.Context, id string) error
	SetUserActive(ctx context.Context, id string, active bool) error
	SetUserReportState(ctx context.Context, id string, reportCount int, sharingRestricted bool) error
}

// AddressStore defines public address persistence
type AddressStore interface {
	GetAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error)
	// CreateAddress inserts an ownerless address; returns *ConflictError if it exists.
	CreateAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error)
	// ClaimAddress atomically creates the address or adds userID to its
	// owners, touching updatedAt either way.
	ClaimAddress(ctx context.Context, publicKey, userID string) (*models.PublicAddress, error)
	LatestAddressForUser(ctx context.Context, userID string) (*models.PublicAddress, error)
	ListAddressesForUser(ctx context.Context, userID string) ([]*models.PublicAddress, error)
	SetAddressSecret(ctx context.Context, publicKey, encryptedSecret string) error
}

// ChallengeStore keeps at most one challenge per public address
type ChallengeStore interface {
	UpsertChallenge(ctx context.Context, challenge *models.Challenge) error
	GetChallenge(ctx context.Context, publicKey string) (*models.Challenge, error)
	// ExpireChallenge moves expiresAt to the epoch so the challenge can never be reused.
	ExpireChallenge(ctx context.Context, publicKey string) error
}

// SecretStore defines secret persistence. Only active secrets are returned.
// Array fields are mutated in place by the store, never rewritten from a
// stale copy.
type SecretStore interface {
	CreateSecret(ctx context.Context, secret *models.Secret) error
	GetSecret(ctx context.Context, id string) (*models.Secret, error)
	ListSecretsByOwner(ctx context.Context, userID string, includeHidden bool) ([]*models.Secret, error)
	ListChildSecrets(ctx context.Context, parentID string) ([]*models.Secret, error)
	UpdateSecretFields(ctx context.Context, secret *models.Secret) error
	SetSecretHidden(ctx context.Context, id string, hidden bool) error
	ReplaceSharedWith(ctx context.Context, id string, entries []models.ShareEntry) error
	// AppendShareEntries appends the entries not already present (by userId,
	// username or public address) and returns the ones actually added.
	AppendShareEntries(ctx context.Context, id string, entries []models.ShareEntry) ([]models.ShareEntry, error)
	// ClaimShares fills userID into username-only entries addressed to
	// username and returns the number of secrets touched.
	ClaimShares(ctx context.Context, username, userID string) (int64, error)
	// AppendSecretView appends view unless an entry with the same telegramId,
	// userId or username exists. Reports whether it appended.
	AppendSecretView(ctx context.Context, id string, view models.SecretView) (bool, error)
	// FindSharedWith returns active parent secrets whose sharedWith matches
	// any of the non-empty identifiers.
	FindSharedWith(ctx context.Context, userID, username, publicAddress string) ([]*models.Secret, error)
	// DeactivateSecret soft-deletes the secret and its children.
	DeactivateSecret(ctx context.Context, id string) error
}

// ReportStore defines report persistence
type ReportStore interface {
	// CreateReport returns *ConflictError when the reporter already has an
	// unresolved report on the same secret.
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReports(ctx context.Context, resolved *bool) ([]*models.Report, error)
	ResolveReport(ctx context.Context, id string, at time.Time) error
	CountUnresolvedReportsAgainst(ctx context.Context, userID string) (int, error)
}

// Store is an aggregate interface of every store.
// It makes dependency injection easier.
type Store interface {
	UserStore
	AddressStore
	ChallengeStore
	SecretStore
	ReportStore
}
