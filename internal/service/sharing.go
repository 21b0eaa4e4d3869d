package service

import (
	"context"
	"fmt"
	"strings"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// ShareTarget is a raw "share with" entry as sent by clients
type ShareTarget struct {
	Username      string `json:"username,omitempty"`
	UserID        string `json:"userId,omitempty"`
	PublicAddress string `json:"publicAddress,omitempty"`
}

// SharingService resolves share targets and enforces who may receive them
type SharingService struct {
	resolver *identity.Resolver
	secrets  repository.SecretStore
	log      *zap.Logger
}

// NewSharingService creates a sharing service
func NewSharingService(resolver *identity.Resolver, secrets repository.SecretStore, log *zap.Logger) *SharingService {
	return &SharingService{resolver: resolver, secrets: secrets, log: log}
}

// Expand resolves each target into share entries. An address-only target
// fans out to every active co-owner of the address. Entries naming the
// same recipient twice are collapsed, keeping the first.
func (s *SharingService) Expand(ctx context.Context, targets []ShareTarget) []models.ShareEntry {
	var expanded []models.ShareEntry
	for _, t := range targets {
		username := identity.NormalizeUsername(t.Username)
		userID := strings.TrimSpace(t.UserID)
		address := identity.NormalizeAddress(t.PublicAddress)

		if username == "" && userID == "" {
			if address == "" {
				// nothing to resolve; kept without notification
				expanded = append(expanded, models.ShareEntry{})
				continue
			}
			expanded = append(expanded, s.expandAddress(ctx, address)...)
			continue
		}

		info := s.resolver.FindUserByAnyInfo(ctx, identity.Query{UserID: userID, Username: username, PublicAddress: address})
		switch {
		case info != nil:
			expanded = append(expanded, resolvedEntry(*info, address))
		case username != "":
			// not registered yet; ClaimShares completes it on first login
			expanded = append(expanded, models.ShareEntry{
				Username:                       username,
				PublicAddress:                  address,
				ShouldSendTelegramNotification: true,
			})
		default:
			expanded = append(expanded, models.ShareEntry{UserID: userID, PublicAddress: address})
		}
	}
	return dedupeEntries(expanded)
}

func (s *SharingService) expandAddress(ctx context.Context, address string) []models.ShareEntry {
	owners := s.resolver.FindUsersByPublicAddress(ctx, address)
	if len(owners) == 0 {
		return []models.ShareEntry{{PublicAddress: address}}
	}
	entries := make([]models.ShareEntry, 0, len(owners))
	for _, owner := range owners {
		entries = append(entries, resolvedEntry(owner, address))
	}
	return entries
}

// resolvedEntry completes an entry from a resolved user. The user's latest
// address is stored so the share keeps matching them in SharedWithMe.
func resolvedEntry(info models.UserFoundInfo, fallbackAddress string) models.ShareEntry {
	address := info.PublicAddress
	if address == "" {
		address = fallbackAddress
	}
	return models.ShareEntry{
		Username:                       info.Username,
		UserID:                         info.UserID,
		PublicAddress:                  address,
		ShouldSendTelegramNotification: info.TelegramID != "",
	}
}

func dedupeEntries(entries []models.ShareEntry) []models.ShareEntry {
	result := make([]models.ShareEntry, 0, len(entries))
next:
	for _, e := range entries {
		for _, kept := range result {
			if e.SameRecipient(kept) {
				continue next
			}
		}
		result = append(result, e)
	}
	return result
}

// FilterSelfSharing drops entries naming the creator by username, user id
// or public address.
func FilterSelfSharing(entries []models.ShareEntry, creatorUsername, creatorUserID, creatorAddress string) []models.ShareEntry {
	result := make([]models.ShareEntry, 0, len(entries))
	for _, e := range entries {
		if matchesRecipient(e, creatorUserID, creatorUsername, creatorAddress) {
			continue
		}
		result = append(result, e)
	}
	return result
}

// ValidateSharingRestrictions lets a restricted user share only with users
// who have shared a secret with them before.
func (s *SharingService) ValidateSharingRestrictions(ctx context.Context, user *models.User, targets []models.ShareEntry) error {
	if !user.SharingRestricted || len(targets) == 0 {
		return nil
	}

	received, err := s.secrets.FindSharedWith(ctx, user.ID, user.Username, "")
	if err != nil {
		return apperr.Internal("failed to load received shares", err)
	}

	allowedIDs := make(map[string]bool)
	allowedNames := make(map[string]bool)
	for _, sec := range received {
		allowedIDs[sec.UserID] = true
		if owner := s.resolver.FindUser(ctx, identity.Query{UserID: sec.UserID}); owner != nil && owner.Username != "" {
			allowedNames[strings.ToLower(owner.Username)] = true
		}
	}

	for _, t := range targets {
		if (t.UserID != "" && allowedIDs[t.UserID]) || (t.Username != "" && allowedNames[strings.ToLower(t.Username)]) {
			continue
		}
		name := t.Username
		if name == "" {
			name = t.UserID
		}
		if name == "" {
			name = t.PublicAddress
		}
		return apperr.Forbidden(fmt.Sprintf(
			"sharing is restricted: you can only share with users who have shared with you (%s)", name))
	}
	return nil
}
