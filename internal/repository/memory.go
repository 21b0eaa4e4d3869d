package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"secretshare-backend/internal/models"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory implementation of Store. Every mutation
// happens under one lock, so array appends are atomic like the SQL ones.
type InMemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	addresses  map[string]*models.PublicAddress // by public key
	challenges map[string]*models.Challenge     // by public key
	secrets    map[string]*models.Secret
	reports    map[string]*models.Report
	now        func() time.Time
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[string]*models.User),
		addresses:  make(map[string]*models.PublicAddress),
		challenges: make(map[string]*models.Challenge),
		secrets:    make(map[string]*models.Secret),
		reports:    make(map[string]*models.Report),
		now:        time.Now,
	}
}

// --- UserStore ---

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, exists := s.users[user.ID]; exists {
		return &ConflictError{Field: "id", Value: user.ID}
	}
	if s.telegramTaken(user.TelegramID, user.ID) {
		return &ConflictError{Field: "telegram_id", Value: user.TelegramID}
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	u := *user
	s.users[u.ID] = &u
	return nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *InMemoryStore) FindActiveUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findActiveUser(func(u *models.User) bool { return u.ID == id })
}

func (s *InMemoryStore) FindActiveUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findActiveUser(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

func (s *InMemoryStore) FindActiveUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	if telegramID == "" {
		return nil, ErrNotFound
	}
	return s.findActiveUser(func(u *models.User) bool { return u.TelegramID == telegramID })
}

// findActiveUser returns the oldest active user matching match
func (s *InMemoryStore) findActiveUser(match func(u *models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.User
	for _, u := range s.users {
		if !u.IsActive || !match(u) {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			found = u
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	c := *found
	return &c, nil
}

func (s *InMemoryStore) UpdateUserProfile(ctx context.Context, user *models.User) error {
	s.mu.RLock()
	taken := s.telegramTaken(user.TelegramID, user.ID)
	s.mu.RUnlock()
	if taken {
		return &ConflictError{Field: "telegram_id", Value: user.TelegramID}
	}
	return s.updateUser(user.ID, func(u *models.User) {
		u.Username = user.Username
		u.FirstName = user.FirstName
		u.LastName = user.LastName
		u.PhotoURL = user.PhotoURL
		u.TelegramID = user.TelegramID
		u.PrivacyMode = user.PrivacyMode
	})
}

func (s *InMemoryStore) TouchUser(ctx context.Context, id string) error {
	return s.updateUser(id, func(u *models.User) {})
}

func (s *InMemoryStore) SetUserActive(ctx context.Context, id string, active bool) error {
	return s.updateUser(id, func(u *models.User) { u.IsActive = active })
}

func (s *InMemoryStore) SetUserReportState(ctx context.Context, id string, reportCount int, sharingRestricted bool) error {
	return s.updateUser(id, func(u *models.User) {
		u.ReportCount = reportCount
		u.SharingRestricted = sharingRestricted
	})
}

// telegramTaken mirrors the partial unique index on users.telegram_id.
// Callers hold the lock.
func (s *InMemoryStore) telegramTaken(telegramID, exceptID string) bool {
	if telegramID == "" {
		return false
	}
	for _, u := range s.users {
		if u.ID != exceptID && u.TelegramID == telegramID {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) updateUser(id string, apply func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	apply(u)
	u.UpdatedAt = s.now()
	return nil
}

// --- AddressStore ---

func (s *InMemoryStore) GetAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.addresses[publicKey]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAddress(a), nil
}

func (s *InMemoryStore) CreateAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addresses[publicKey]; exists {
		return nil, &ConflictError{Field: "public_key", Value: publicKey}
	}
	now := s.now()
	a := &models.PublicAddress{ID: uuid.NewString(), PublicKey: publicKey, UserIDs: []string{}, CreatedAt: now, UpdatedAt: now}
	s.addresses[publicKey] = a
	return copyAddress(a), nil
}

func (s *InMemoryStore) ClaimAddress(ctx context.Context, publicKey, userID string) (*models.PublicAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a, ok := s.addresses[publicKey]
	if !ok {
		a = &models.PublicAddress{ID: uuid.NewString(), PublicKey: publicKey, UserIDs: []string{}, CreatedAt: now}
		s.addresses[publicKey] = a
	}
	if !a.HasOwner(userID) {
		a.UserIDs = append(a.UserIDs, userID)
	}
	a.UpdatedAt = now
	return copyAddress(a), nil
}

func (s *InMemoryStore) LatestAddressForUser(ctx context.Context, userID string) (*models.PublicAddress, error) {
	list, _ := s.ListAddressesForUser(ctx, userID)
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// ListAddressesForUser returns the user's addresses, most recently touched first
func (s *InMemoryStore) ListAddressesForUser(ctx context.Context, userID string) ([]*models.PublicAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := []*models.PublicAddress{}
	for _, a := range s.addresses {
		if a.HasOwner(userID) {
			list = append(list, copyAddress(a))
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list, nil
}

func (s *InMemoryStore) SetAddressSecret(ctx context.Context, publicKey, encryptedSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[publicKey]
	if !ok {
		return ErrNotFound
	}
	a.EncryptedSecret = encryptedSecret
	a.UpdatedAt = s.now()
	return nil
}

func copyAddress(a *models.PublicAddress) *models.PublicAddress {
	c := *a
	c.UserIDs = append([]string{}, a.UserIDs...)
	return &c
}

// --- ChallengeStore ---

func (s *InMemoryStore) UpsertChallenge(ctx context.Context, challenge *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *challenge
	s.challenges[c.PublicKey] = &c
	return nil
}

func (s *InMemoryStore) GetChallenge(ctx context.Context, publicKey string) (*models.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[publicKey]
	if !ok {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *InMemoryStore) ExpireChallenge(ctx context.Context, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[publicKey]
	if !ok {
		return ErrNotFound
	}
	c.ExpiresAt = time.Unix(0, 0).UTC()
	return nil
}

// --- SecretStore ---

func (s *InMemoryStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if secret.ID == "" {
		secret.ID = uuid.NewString()
	}
	now := s.now()
	secret.CreatedAt = now
	secret.UpdatedAt = now
	secret.IsActive = true
	if secret.SharedWith == nil {
		secret.SharedWith = []models.ShareEntry{}
	}
	if secret.SecretViews == nil {
		secret.SecretViews = []models.SecretView{}
	}
	s.secrets[secret.ID] = secret.Clone()
	return nil
}

func (s *InMemoryStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.secrets[id]
	if !ok || !sec.IsActive {
		return nil, ErrNotFound
	}
	return sec.Clone(), nil
}

func (s *InMemoryStore) ListSecretsByOwner(ctx context.Context, userID string, includeHidden bool) ([]*models.Secret, error) {
	return s.listSecrets(func(sec *models.Secret) bool {
		return sec.UserID == userID && !sec.IsChild() && (includeHidden || !sec.Hidden)
	}), nil
}

func (s *InMemoryStore) ListChildSecrets(ctx context.Context, parentID string) ([]*models.Secret, error) {
	return s.listSecrets(func(sec *models.Secret) bool { return sec.ParentSecretID == parentID }), nil
}

func (s *InMemoryStore) FindSharedWith(ctx context.Context, userID, username, publicAddress string) ([]*models.Secret, error) {
	return s.listSecrets(func(sec *models.Secret) bool {
		if sec.IsChild() {
			return false
		}
		for _, e := range sec.SharedWith {
			if (userID != "" && e.UserID == userID) ||
				(username != "" && strings.EqualFold(e.Username, username)) ||
				(publicAddress != "" && e.PublicAddress == publicAddress) {
				return true
			}
		}
		return false
	}), nil
}

// listSecrets returns active secrets matching match, newest first
func (s *InMemoryStore) listSecrets(match func(sec *models.Secret) bool) []*models.Secret {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := []*models.Secret{}
	for _, sec := range s.secrets {
		if sec.IsActive && match(sec) {
			list = append(list, sec.Clone())
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}

func (s *InMemoryStore) UpdateSecretFields(ctx context.Context, secret *models.Secret) error {
	return s.updateSecret(secret.ID, func(sec *models.Secret) {
		sec.Key = secret.Key
		sec.Value = secret.Value
		sec.Description = secret.Description
		sec.Type = secret.Type
	})
}

func (s *InMemoryStore) SetSecretHidden(ctx context.Context, id string, hidden bool) error {
	return s.updateSecret(id, func(sec *models.Secret) { sec.Hidden = hidden })
}

func (s *InMemoryStore) ReplaceSharedWith(ctx context.Context, id string, entries []models.ShareEntry) error {
	return s.updateSecret(id, func(sec *models.Secret) {
		sec.SharedWith = append([]models.ShareEntry{}, entries...)
	})
}

func (s *InMemoryStore) AppendShareEntries(ctx context.Context, id string, entries []models.ShareEntry) ([]models.ShareEntry, error) {
	added := []models.ShareEntry{}
	err := s.updateSecret(id, func(sec *models.Secret) {
	next:
		for _, e := range entries {
			for _, existing := range sec.SharedWith {
				if e.SameRecipient(existing) {
					continue next
				}
			}
			sec.SharedWith = append(sec.SharedWith, e)
			added = append(added, e)
		}
	})
	return added, err
}

func (s *InMemoryStore) ClaimShares(ctx context.Context, username, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed int64
	for _, sec := range s.secrets {
		if !sec.IsActive {
			continue
		}
		touched := false
		for i, e := range sec.SharedWith {
			if e.UserID == "" && e.Username != "" && strings.EqualFold(e.Username, username) {
				sec.SharedWith[i].UserID = userID
				touched = true
			}
		}
		if touched {
			sec.UpdatedAt = s.now()
			claimed++
		}
	}
	return claimed, nil
}

func (s *InMemoryStore) AppendSecretView(ctx context.Context, id string, view models.SecretView) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.secrets[id]
	if !ok || !sec.IsActive {
		return false, ErrNotFound
	}
	for _, existing := range sec.SecretViews {
		if view.SameViewer(existing) {
			return false, nil
		}
	}
	// views are not edits; updatedAt stays put
	sec.SecretViews = append(sec.SecretViews, view)
	return true, nil
}

func (s *InMemoryStore) DeactivateSecret(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.secrets[id]
	if !ok || !sec.IsActive {
		return ErrNotFound
	}
	now := s.now()
	for _, candidate := range s.secrets {
		if candidate.ID == id || candidate.ParentSecretID == id {
			candidate.IsActive = false
			candidate.UpdatedAt = now
		}
	}
	return nil
}

func (s *InMemoryStore) updateSecret(id string, apply func(sec *models.Secret)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.secrets[id]
	if !ok || !sec.IsActive {
		return ErrNotFound
	}
	apply(sec)
	sec.UpdatedAt = s.now()
	return nil
}

// --- ReportStore ---

func (s *InMemoryStore) CreateReport(ctx context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reports {
		if !r.Resolved && r.SecretID == report.SecretID && r.Reporter.UserID == report.Reporter.UserID {
			return &ConflictError{Field: "open report for secret", Value: report.SecretID}
		}
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	report.CreatedAt = s.now()
	r := *report
	s.reports[r.ID] = &r
	return nil
}

func (s *InMemoryStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *InMemoryStore) ListReports(ctx context.Context, resolved *bool) ([]*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := []*models.Report{}
	for _, r := range s.reports {
		if resolved != nil && r.Resolved != *resolved {
			continue
		}
		c := *r
		list = append(list, &c)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *InMemoryStore) ResolveReport(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.Resolved = true
	r.ResolvedAt = &at
	return nil
}

func (s *InMemoryStore) CountUnresolvedReportsAgainst(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.reports {
		if !r.Resolved && r.ReportedUser.UserID == userID {
			count++
		}
	}
	return count, nil
}
