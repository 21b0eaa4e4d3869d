package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/notify"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// CreateSecretInput holds the fields of a new secret
type CreateSecretInput struct {
	Key            string
	Value          string
	Description    string
	Type           string
	ParentSecretID string
	SharedWith     []ShareTarget
}

// UpdateSecretInput holds optional changes. A non-nil SharedWith replaces
// the whole recipient list.
type UpdateSecretInput struct {
	Key         *string
	Value       *string
	Description *string
	Type        *string
	SharedWith  *[]ShareTarget
}

// SecretService handles secret lifecycle and sharing
type SecretService struct {
	secrets    repository.SecretStore
	users      repository.UserStore
	resolver   *identity.Resolver
	sharing    *SharingService
	visibility *VisibilityService
	notifier   notify.Notifier
	log        *zap.Logger
}

// NewSecretService creates a secret service
func NewSecretService(
	secrets repository.SecretStore,
	users repository.UserStore,
	resolver *identity.Resolver,
	sharing *SharingService,
	visibility *VisibilityService,
	notifier notify.Notifier,
	log *zap.Logger,
) *SecretService {
	return &SecretService{
		secrets:    secrets,
		users:      users,
		resolver:   resolver,
		sharing:    sharing,
		visibility: visibility,
		notifier:   notifier,
		log:        log,
	}
}

// Create stores a new secret owned by p. Children may only hang off a
// parent secret p can view, one level deep.
func (s *SecretService) Create(ctx context.Context, p auth.Principal, in CreateSecretInput) (*models.Secret, error) {
	if strings.TrimSpace(in.Key) == "" {
		return nil, apperr.BadRequest("key is required")
	}

	owner, err := s.users.FindActiveUserByID(ctx, p.ID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}

	if in.ParentSecretID != "" {
		parent, err := s.secrets.GetSecret(ctx, in.ParentSecretID)
		if err != nil {
			return nil, storeErr(err, "parent secret not found")
		}
		if parent.IsChild() {
			return nil, apperr.BadRequest("child secrets cannot have children")
		}
		if !s.visibility.CanView(ctx, parent, p) {
			return nil, apperr.Forbidden("you do not have access to the parent secret")
		}
	}

	address := principalAddress(ctx, s.resolver, p)
	entries, err := s.prepareShares(ctx, owner, address, in.SharedWith)
	if err != nil {
		return nil, err
	}

	secret := &models.Secret{
		UserID:         owner.ID,
		Key:            in.Key,
		Value:          in.Value,
		Description:    in.Description,
		Type:           in.Type,
		ParentSecretID: in.ParentSecretID,
		PublicAddress:  address,
		SharedWith:     entries,
		SecretViews:    []models.SecretView{},
	}
	if err := s.secrets.CreateSecret(ctx, secret); err != nil {
		return nil, storeErr(err, "secret not found")
	}

	s.log.Info("secret created",
		zap.String("secret_id", secret.ID),
		zap.String("user_id", owner.ID),
		zap.Int("shared_with", len(entries)))

	s.notifyRecipients(ctx, p, secret, entries)
	return secret, nil
}

// prepareShares expands targets, drops the owner and checks restrictions
func (s *SecretService) prepareShares(ctx context.Context, owner *models.User, address string, targets []ShareTarget) ([]models.ShareEntry, error) {
	entries := s.sharing.Expand(ctx, targets)
	entries = FilterSelfSharing(entries, owner.Username, owner.ID, address)
	if err := s.sharing.ValidateSharingRestrictions(ctx, owner, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns a secret the principal can view
func (s *SecretService) Get(ctx context.Context, p auth.Principal, id string) (*models.Secret, error) {
	secret, err := s.secrets.GetSecret(ctx, id)
	if err != nil {
		return nil, storeErr(err, "secret not found")
	}
	if !s.visibility.CanView(ctx, secret, p) {
		return nil, apperr.Forbidden("you do not have access to this secret")
	}
	return secret, nil
}

// ListOwn returns the principal's parent secrets, newest first
func (s *SecretService) ListOwn(ctx context.Context, p auth.Principal, includeHidden bool) ([]*models.Secret, error) {
	list, err := s.secrets.ListSecretsByOwner(ctx, p.ID, includeHidden)
	if err != nil {
		return nil, apperr.Internal("failed to list secrets", err)
	}
	return list, nil
}

// ListChildren returns the children of a secret that p can view
func (s *SecretService) ListChildren(ctx context.Context, p auth.Principal, parentID string) ([]*models.Secret, error) {
	parent, err := s.Get(ctx, p, parentID)
	if err != nil {
		return nil, err
	}

	children, err := s.secrets.ListChildSecrets(ctx, parent.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list child secrets", err)
	}

	visible := make([]*models.Secret, 0, len(children))
	for _, c := range children {
		if s.visibility.CanView(ctx, c, p) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// Update changes fields of a secret owned by p
func (s *SecretService) Update(ctx context.Context, p auth.Principal, id string, in UpdateSecretInput) (*models.Secret, error) {
	secret, err := s.owned(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if in.Key != nil && strings.TrimSpace(*in.Key) == "" {
		return nil, apperr.BadRequest("key cannot be empty")
	}

	// resolve recipients before writing anything so a rejected share
	// leaves the secret untouched
	var entries []models.ShareEntry
	if in.SharedWith != nil {
		owner, err := s.users.FindActiveUserByID(ctx, p.ID)
		if err != nil {
			return nil, storeErr(err, "user not found")
		}
		entries, err = s.prepareShares(ctx, owner, principalAddress(ctx, s.resolver, p), *in.SharedWith)
		if err != nil {
			return nil, err
		}
	}

	previous := secret.SharedWith
	if in.Key != nil {
		secret.Key = *in.Key
	}
	if in.Value != nil {
		secret.Value = *in.Value
	}
	if in.Description != nil {
		secret.Description = *in.Description
	}
	if in.Type != nil {
		secret.Type = *in.Type
	}
	if err := s.secrets.UpdateSecretFields(ctx, secret); err != nil {
		return nil, storeErr(err, "secret not found")
	}

	if in.SharedWith != nil {
		if err := s.secrets.ReplaceSharedWith(ctx, secret.ID, entries); err != nil {
			return nil, storeErr(err, "secret not found")
		}

		var added []models.ShareEntry
		for _, e := range entries {
			if !containsRecipient(previous, e) {
				added = append(added, e)
			}
		}
		s.notifyRecipients(ctx, p, secret, added)
	}

	return s.reload(ctx, secret.ID)
}

// Share appends recipients to a secret owned by p. Recipients already on
// the list are ignored.
func (s *SecretService) Share(ctx context.Context, p auth.Principal, id string, targets []ShareTarget) (*models.Secret, error) {
	if len(targets) == 0 {
		return nil, apperr.BadRequest("sharedWith must not be empty")
	}
	secret, err := s.owned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.users.FindActiveUserByID(ctx, p.ID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}

	entries, err := s.prepareShares(ctx, owner, principalAddress(ctx, s.resolver, p), targets)
	if err != nil {
		return nil, err
	}
	added, err := s.secrets.AppendShareEntries(ctx, secret.ID, entries)
	if err != nil {
		return nil, storeErr(err, "secret not found")
	}
	s.notifyRecipients(ctx, p, secret, added)

	return s.reload(ctx, secret.ID)
}

// SetHidden hides or unhides a secret owned by p
func (s *SecretService) SetHidden(ctx context.Context, p auth.Principal, id string, hidden bool) error {
	if _, err := s.owned(ctx, p, id); err != nil {
		return err
	}
	if err := s.secrets.SetSecretHidden(ctx, id, hidden); err != nil {
		return storeErr(err, "secret not found")
	}
	return nil
}

// Delete soft-deletes a secret owned by p together with its children
func (s *SecretService) Delete(ctx context.Context, p auth.Principal, id string) error {
	if _, err := s.owned(ctx, p, id); err != nil {
		return err
	}
	if err := s.secrets.DeactivateSecret(ctx, id); err != nil {
		return storeErr(err, "secret not found")
	}
	s.log.Info("secret deleted", zap.String("secret_id", id), zap.String("user_id", p.ID))
	return nil
}

func (s *SecretService) owned(ctx context.Context, p auth.Principal, id string) (*models.Secret, error) {
	secret, err := s.secrets.GetSecret(ctx, id)
	if err != nil {
		return nil, storeErr(err, "secret not found")
	}
	if secret.UserID != p.ID {
		return nil, apperr.Forbidden("only the owner can modify this secret")
	}
	return secret, nil
}

func (s *SecretService) reload(ctx context.Context, id string) (*models.Secret, error) {
	secret, err := s.secrets.GetSecret(ctx, id)
	if err != nil {
		return nil, storeErr(err, "secret not found")
	}
	return secret, nil
}

// notifyRecipients messages every entry flagged for notification that
// resolves to a Telegram account.
func (s *SecretService) notifyRecipients(ctx context.Context, sender auth.Principal, secret *models.Secret, entries []models.ShareEntry) {
	msg := fmt.Sprintf("%s shared a secret with you: %q", displayName(sender.Username, sender.FirstName), secret.Key)
	for _, e := range entries {
		if !e.ShouldSendTelegramNotification {
			continue
		}
		info := s.resolver.FindUserByAnyInfo(ctx, identity.Query{UserID: e.UserID, Username: e.Username})
		if info == nil || info.TelegramID == "" {
			continue
		}
		tryNonCritical(s.log, "notify share recipient", func() error {
			err := s.notifier.Notify(ctx, *info, msg)
			if errors.Is(err, notify.ErrNoChat) {
				return nil
			}
			return err
		})
	}
}

func containsRecipient(entries []models.ShareEntry, e models.ShareEntry) bool {
	for _, existing := range entries {
		if existing.SameRecipient(e) {
			return true
		}
	}
	return false
}
