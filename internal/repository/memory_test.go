package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"secretshare-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_CreateAddressConcurrent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateAddress(ctx, "0xabc")
			mu.Lock()
			defer mu.Unlock()
			var conflict *ConflictError
			switch {
			case err == nil:
				created++
			case errors.As(err, &conflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, store.addresses, 1)
}

func TestInMemoryStore_ClaimAddressIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.ClaimAddress(ctx, "0xabc", "u1")
	require.NoError(t, err)
	_, err = store.ClaimAddress(ctx, "0xabc", "u2")
	require.NoError(t, err)
	addr, err := store.ClaimAddress(ctx, "0xabc", "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "u2"}, addr.UserIDs)
}

func TestInMemoryStore_LatestAddressForUser(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	_, err := store.ClaimAddress(ctx, "0xold", "u1")
	require.NoError(t, err)
	_, err = store.ClaimAddress(ctx, "0xnew", "u1")
	require.NoError(t, err)

	latest, err := store.LatestAddressForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "0xnew", latest.PublicKey)

	// re-claiming touches the record
	_, err = store.ClaimAddress(ctx, "0xold", "u1")
	require.NoError(t, err)
	latest, err = store.LatestAddressForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "0xold", latest.PublicKey)

	_, err = store.LatestAddressForUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_AppendSecretViewOncePerViewer(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	sec := &models.Secret{UserID: "owner", Key: "k", Value: "v"}
	require.NoError(t, store.CreateSecret(ctx, sec))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.AppendSecretView(ctx, sec.ID, models.SecretView{UserID: "u2", Username: "bob"})
		}()
	}
	wg.Wait()

	appended, err := store.AppendSecretView(ctx, sec.ID, models.SecretView{Username: "BOB"})
	require.NoError(t, err)
	assert.False(t, appended)

	got, err := store.GetSecret(ctx, sec.ID)
	require.NoError(t, err)
	assert.Len(t, got.SecretViews, 1)

	_, err = store.AppendSecretView(ctx, "missing", models.SecretView{UserID: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_AppendShareEntriesSkipsKnownRecipients(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	sec := &models.Secret{UserID: "owner", SharedWith: []models.ShareEntry{{Username: "bob"}}}
	require.NoError(t, store.CreateSecret(ctx, sec))

	added, err := store.AppendShareEntries(ctx, sec.ID, []models.ShareEntry{
		{Username: "Bob", UserID: "u2"},
		{Username: "carol"},
		{Username: "carol"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.ShareEntry{{Username: "carol"}}, added)

	got, err := store.GetSecret(ctx, sec.ID)
	require.NoError(t, err)
	assert.Len(t, got.SharedWith, 2)
}

func TestInMemoryStore_AppendShareEntriesKeepsAddressCoOwners(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	const addr = "0x1111111111111111111111111111111111111111"
	sec := &models.Secret{UserID: "owner", SharedWith: []models.ShareEntry{{UserID: "u1", PublicAddress: addr}}}
	require.NoError(t, store.CreateSecret(ctx, sec))

	added, err := store.AppendShareEntries(ctx, sec.ID, []models.ShareEntry{
		{UserID: "u1", PublicAddress: addr},
		{UserID: "u2", PublicAddress: addr},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.ShareEntry{{UserID: "u2", PublicAddress: addr}}, added)
}

func TestInMemoryStore_ClaimShares(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	a := &models.Secret{UserID: "owner", SharedWith: []models.ShareEntry{{Username: "bob", ShouldSendTelegramNotification: true}}}
	b := &models.Secret{UserID: "owner", SharedWith: []models.ShareEntry{{Username: "bob", UserID: "old"}}}
	require.NoError(t, store.CreateSecret(ctx, a))
	require.NoError(t, store.CreateSecret(ctx, b))

	n, err := store.ClaimShares(ctx, "BOB", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := store.GetSecret(ctx, a.ID)
	assert.Equal(t, "u2", got.SharedWith[0].UserID)
	got, _ = store.GetSecret(ctx, b.ID)
	assert.Equal(t, "old", got.SharedWith[0].UserID)
}

func TestInMemoryStore_DeactivateSecretCascades(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	parent := &models.Secret{UserID: "owner"}
	require.NoError(t, store.CreateSecret(ctx, parent))
	child := &models.Secret{UserID: "other", ParentSecretID: parent.ID}
	require.NoError(t, store.CreateSecret(ctx, child))

	require.NoError(t, store.DeactivateSecret(ctx, parent.ID))

	_, err := store.GetSecret(ctx, child.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeactivateSecret(ctx, parent.ID), ErrNotFound)
}

func TestInMemoryStore_FindSharedWithIgnoresChildren(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	parent := &models.Secret{UserID: "owner", SharedWith: []models.ShareEntry{{PublicAddress: "0xabc"}}}
	require.NoError(t, store.CreateSecret(ctx, parent))
	child := &models.Secret{UserID: "owner", ParentSecretID: parent.ID, SharedWith: []models.ShareEntry{{PublicAddress: "0xabc"}}}
	require.NoError(t, store.CreateSecret(ctx, child))

	found, err := store.FindSharedWith(ctx, "", "", "0xabc")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, parent.ID, found[0].ID)
}

func TestInMemoryStore_ReportsOneOpenPerReporter(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	newReport := func() *models.Report {
		return &models.Report{
			SecretID:     "s1",
			Reporter:     models.ReportedIdentity{UserID: "u2"},
			ReportedUser: models.ReportedIdentity{UserID: "u1"},
			ReportType:   models.ReportSpam,
		}
	}

	first := newReport()
	require.NoError(t, store.CreateReport(ctx, first))

	var conflict *ConflictError
	assert.ErrorAs(t, store.CreateReport(ctx, newReport()), &conflict)

	count, err := store.CountUnresolvedReportsAgainst(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.ResolveReport(ctx, first.ID, time.Now()))
	require.NoError(t, store.CreateReport(ctx, newReport()))

	resolved := true
	list, err := store.ListReports(ctx, &resolved)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = store.ListReports(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestInMemoryStore_FindActiveUserSkipsInactive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	u := &models.User{Username: "bob", TelegramID: "42", IsActive: true}
	require.NoError(t, store.CreateUser(ctx, u))

	found, err := store.FindActiveUserByUsername(ctx, "BOB")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	require.NoError(t, store.SetUserActive(ctx, u.ID, false))
	_, err = store.FindActiveUserByTelegramID(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	// GetUserByID still sees deactivated users
	_, err = store.GetUserByID(ctx, u.ID)
	assert.NoError(t, err)
}
