package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/notify"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// VisibilityService decides who can see a secret and tracks views
type VisibilityService struct {
	secrets  repository.SecretStore
	users    repository.UserStore
	resolver *identity.Resolver
	notifier notify.Notifier
	now      func() time.Time
	log      *zap.Logger
}

// NewVisibilityService creates a visibility service
func NewVisibilityService(
	secrets repository.SecretStore,
	users repository.UserStore,
	resolver *identity.Resolver,
	notifier notify.Notifier,
	log *zap.Logger,
) *VisibilityService {
	return &VisibilityService{
		secrets:  secrets,
		users:    users,
		resolver: resolver,
		notifier: notifier,
		now:      time.Now,
		log:      log,
	}
}

// CanView grants access to the owner, to any recipient in sharedWith and,
// for child secrets, to the owner of the parent.
func (s *VisibilityService) CanView(ctx context.Context, secret *models.Secret, viewer auth.Principal) bool {
	if secret.UserID == viewer.ID {
		return true
	}

	address := ""
	for _, e := range secret.SharedWith {
		if e.PublicAddress != "" && address == "" {
			address = principalAddress(ctx, s.resolver, viewer)
		}
		if matchesRecipient(e, viewer.ID, viewer.Username, address) {
			return true
		}
	}

	if secret.IsChild() {
		parent, err := s.secrets.GetSecret(ctx, secret.ParentSecretID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				s.log.Warn("parent lookup failed", zap.String("secret_id", secret.ID), zap.Error(err))
			}
			return false
		}
		return parent.UserID == viewer.ID
	}
	return false
}

// RecordView appends a view for viewer at most once. A missing secret or a
// viewer without access yields (nil, nil) so callers can answer with an
// empty success. Owners and privacy mode on either side never record.
func (s *VisibilityService) RecordView(ctx context.Context, secretID string, viewer auth.Principal) (*models.Secret, error) {
	secret, err := s.secrets.GetSecret(ctx, secretID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("failed to load secret", err)
	}

	if !s.CanView(ctx, secret, viewer) {
		return nil, nil
	}
	if secret.UserID == viewer.ID {
		return secret, nil
	}

	viewerUser, err := s.users.GetUserByID(ctx, viewer.ID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	owner, err := s.users.GetUserByID(ctx, secret.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal("failed to load owner", err)
	}
	if viewerUser.PrivacyMode || (owner != nil && owner.PrivacyMode) {
		return secret, nil
	}

	view := models.SecretView{
		TelegramID: viewerUser.TelegramID,
		Username:   viewerUser.Username,
		UserID:     viewerUser.ID,
		FirstName:  viewerUser.FirstName,
		LastName:   viewerUser.LastName,
		ViewedAt:   s.now().UTC(),
	}
	for _, existing := range secret.SecretViews {
		if view.SameViewer(existing) {
			return secret, nil
		}
	}

	view.PublicAddress = principalAddress(ctx, s.resolver, viewer)
	appended, err := s.secrets.AppendSecretView(ctx, secret.ID, view)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("failed to record view", err)
	}

	if appended && owner != nil && owner.TelegramID != "" {
		tryNonCritical(s.log, "notify owner of view", func() error {
			msg := fmt.Sprintf("%s viewed your secret %q", displayName(view.Username, view.FirstName), secret.Key)
			return s.notifier.Notify(ctx, s.resolver.Info(ctx, owner), msg)
		})
	}

	stored, err := s.secrets.GetSecret(ctx, secret.ID)
	if err != nil {
		s.log.Warn("reload after view failed", zap.String("secret_id", secret.ID), zap.Error(err))
		if appended {
			secret.SecretViews = append(secret.SecretViews, view)
		}
		return secret, nil
	}
	return stored, nil
}

// OwnerInfo identifies the owner of a group of shared secrets
type OwnerInfo struct {
	UserID        string `json:"userId"`
	Username      string `json:"username,omitempty"`
	TelegramID    string `json:"telegramId,omitempty"`
	PublicAddress string `json:"publicAddress,omitempty"`
}

// SharedSecret is a secret as seen by a recipient. View fields are nil
// when privacy rules hide them.
type SharedSecret struct {
	ID            string              `json:"id"`
	Key           string              `json:"key"`
	Value         string              `json:"value"`
	Description   string              `json:"description"`
	Type          string              `json:"type"`
	PublicAddress string              `json:"publicAddress,omitempty"`
	CreatedAt     *time.Time          `json:"createdAt,omitempty"`
	ViewCount     *int                `json:"viewCount,omitempty"`
	SecretViews   []models.SecretView `json:"secretViews,omitempty"`
}

// SharedGroup is every secret one owner shared with the viewer
type SharedGroup struct {
	Owner   OwnerInfo      `json:"owner"`
	Count   int            `json:"count"`
	Secrets []SharedSecret `json:"secrets"`
}

// SharedWithMe lists parent secrets shared with viewer, grouped by owner,
// largest group first.
func (s *VisibilityService) SharedWithMe(ctx context.Context, viewer auth.Principal) ([]SharedGroup, error) {
	viewerUser, err := s.users.GetUserByID(ctx, viewer.ID)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	// address-scoped entries follow the viewer's latest address, not the
	// one their token was issued for
	address := s.resolver.LatestPublicAddress(ctx, viewer.ID)
	if address == "" {
		address = principalAddress(ctx, s.resolver, viewer)
	}

	candidates, err := s.secrets.FindSharedWith(ctx, viewer.ID, viewer.Username, address)
	if err != nil {
		return nil, apperr.Internal("failed to load shared secrets", err)
	}

	type bucket struct {
		group        SharedGroup
		ownerPrivacy bool
	}
	var order []string
	buckets := make(map[string]*bucket)

	for _, sec := range candidates {
		if !sharedWithViewer(sec, viewer, address) {
			continue
		}
		b, ok := buckets[sec.UserID]
		if !ok {
			owner, privacy := s.ownerOf(ctx, sec)
			b = &bucket{group: SharedGroup{Owner: owner, Secrets: []SharedSecret{}}, ownerPrivacy: privacy}
			buckets[sec.UserID] = b
			order = append(order, sec.UserID)
		}
		showViews := !viewerUser.PrivacyMode && (!b.ownerPrivacy || sec.UserID == viewer.ID)
		b.group.Secrets = append(b.group.Secrets, projectShared(sec, showViews))
		b.group.Count++
	}

	groups := make([]SharedGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, buckets[id].group)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	return groups, nil
}

// sharedWithViewer rejects secrets whose matching entries are scoped to an
// address other than the viewer's latest one.
func sharedWithViewer(sec *models.Secret, viewer auth.Principal, address string) bool {
	matched := false
	for _, e := range sec.SharedWith {
		if !matchesRecipient(e, viewer.ID, viewer.Username, address) {
			continue
		}
		if e.PublicAddress != "" && !identity.SameAddress(e.PublicAddress, address) {
			return false
		}
		matched = true
	}
	return matched
}

// ownerOf resolves the owner of sec, falling back to the address stored on
// the secret when the owner id no longer resolves.
func (s *VisibilityService) ownerOf(ctx context.Context, sec *models.Secret) (OwnerInfo, bool) {
	u := s.resolver.FindUser(ctx, identity.Query{UserID: sec.UserID})
	if u == nil && sec.PublicAddress != "" {
		u = s.resolver.FindUser(ctx, identity.Query{PublicAddress: sec.PublicAddress})
	}
	if u == nil {
		return OwnerInfo{UserID: sec.UserID, PublicAddress: sec.PublicAddress}, false
	}
	info := s.resolver.Info(ctx, u)
	return OwnerInfo{
		UserID:        info.UserID,
		Username:      info.Username,
		TelegramID:    info.TelegramID,
		PublicAddress: info.PublicAddress,
	}, u.PrivacyMode
}

func projectShared(sec *models.Secret, showViews bool) SharedSecret {
	p := SharedSecret{
		ID:            sec.ID,
		Key:           sec.Key,
		Value:         sec.Value,
		Description:   sec.Description,
		Type:          sec.Type,
		PublicAddress: sec.PublicAddress,
	}
	if showViews {
		createdAt := sec.CreatedAt
		count := len(sec.SecretViews)
		p.CreatedAt = &createdAt
		p.ViewCount = &count
		p.SecretViews = sec.SecretViews
	}
	return p
}

// ViewStats aggregates who saw a secret and who has not yet
type ViewStats struct {
	SecretID            string              `json:"secretId"`
	TotalViews          int                 `json:"totalViews"`
	UniqueViewers       int                 `json:"uniqueViewers"`
	TotalSharedUsers    int                 `json:"totalSharedUsers"`
	NotViewedUsersCount int                 `json:"notViewedUsersCount"`
	UnknownCount        int                 `json:"unknownCount"`
	HasViewedSecret     bool                `json:"hasViewedSecret"`
	IsOwner             bool                `json:"isOwner"`
	Viewers             []models.SecretView `json:"viewers,omitempty"`
	NotViewedUsers      []string            `json:"notViewedUsers,omitempty"`
}

// ViewStats computes view statistics for a secret the requester can see.
// Viewer details are only returned to the owner.
func (s *VisibilityService) ViewStats(ctx context.Context, secretID string, requester auth.Principal) (*ViewStats, error) {
	secret, err := s.secrets.GetSecret(ctx, secretID)
	if err != nil {
		return nil, storeErr(err, "secret not found")
	}
	if !s.CanView(ctx, secret, requester) {
		return nil, apperr.Forbidden("you do not have access to this secret")
	}

	viewers := uniqueViews(secret.SecretViews)
	stats := &ViewStats{
		SecretID:      secret.ID,
		TotalViews:    len(secret.SecretViews),
		UniqueViewers: len(viewers),
		IsOwner:       secret.UserID == requester.ID,
	}

	for _, v := range viewers {
		if (v.UserID != "" && v.UserID == requester.ID) ||
			(v.TelegramID != "" && v.TelegramID == requester.TelegramID) ||
			(v.Username != "" && strings.EqualFold(v.Username, requester.Username)) {
			stats.HasViewedSecret = true
			break
		}
	}

	recipients := dedupeEntries(secret.SharedWith)
	stats.TotalSharedUsers = len(recipients)
	for _, e := range recipients {
		if viewedBy(viewers, e) {
			continue
		}
		u := s.resolver.FindUser(ctx, identity.Query{UserID: e.UserID, Username: e.Username, PublicAddress: e.PublicAddress})
		if u != nil && u.PrivacyMode {
			stats.UnknownCount++
			continue
		}
		stats.NotViewedUsersCount++
		if name := recipientName(e); name != "" {
			stats.NotViewedUsers = append(stats.NotViewedUsers, name)
		}
	}

	if stats.IsOwner {
		stats.Viewers = viewers
	} else {
		stats.NotViewedUsers = nil
	}
	return stats, nil
}

// uniqueViews collapses views of the same viewer, keeping the first entry
// unless a later one carries a user id the first lacks.
func uniqueViews(views []models.SecretView) []models.SecretView {
	unique := make([]models.SecretView, 0, len(views))
next:
	for _, v := range views {
		for i, kept := range unique {
			if v.SameViewer(kept) || (v.PublicAddress != "" && identity.SameAddress(v.PublicAddress, kept.PublicAddress)) {
				if kept.UserID == "" && v.UserID != "" {
					unique[i] = v
				}
				continue next
			}
		}
		unique = append(unique, v)
	}
	return unique
}

func viewedBy(views []models.SecretView, e models.ShareEntry) bool {
	for _, v := range views {
		if matchesRecipient(e, v.UserID, v.Username, v.PublicAddress) {
			return true
		}
	}
	return false
}

func recipientName(e models.ShareEntry) string {
	switch {
	case e.Username != "":
		return e.Username
	case e.PublicAddress != "":
		return e.PublicAddress
	default:
		return e.UserID
	}
}
