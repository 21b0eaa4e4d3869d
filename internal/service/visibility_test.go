package service

import (
	"context"
	"testing"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) setPrivacy(t *testing.T, u *models.User, on bool) {
	t.Helper()
	_, err := f.users.UpdateMe(context.Background(), principal(u), UpdateProfileInput{PrivacyMode: &on})
	require.NoError(t, err)
}

func TestRecordView_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := f.addUser(t, "u1", "11")
	u2 := f.addUser(t, "u2", "")
	u3 := f.addUser(t, "u3", "")
	sec := f.createSecret(t, u1, "s", ShareTarget{Username: "u2"})

	byID := principal(u2)
	byID.Username = ""
	first, err := f.visibility.RecordView(ctx, sec.ID, byID)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Len(t, first.SecretViews, 1)
	assert.Equal(t, u2.ID, first.SecretViews[0].UserID)

	second, err := f.visibility.RecordView(ctx, sec.ID, principal(u2))
	require.NoError(t, err)
	assert.Equal(t, first.SecretViews, second.SecretViews)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	denied, err := f.visibility.RecordView(ctx, sec.ID, principal(u3))
	require.NoError(t, err)
	assert.Nil(t, denied)

	stored, err := f.store.GetSecret(ctx, sec.ID)
	require.NoError(t, err)
	assert.Len(t, stored.SecretViews, 1)

	// the owner hears about the first view only
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "11", f.notifier.sent[0].To.TelegramID)
	assert.Contains(t, f.notifier.sent[0].Message, "@u2")
}

func TestRecordView_MissingSecret(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "u", "")

	got, err := f.visibility.RecordView(context.Background(), "no-such-secret", principal(u))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordView_OwnerNeverRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "owner", "")
	sec := f.createSecret(t, owner, "s", ShareTarget{Username: "someone"})

	for _, privacy := range []bool{false, true} {
		f.setPrivacy(t, owner, privacy)
		got, err := f.visibility.RecordView(ctx, sec.ID, principal(owner))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Empty(t, got.SecretViews)
	}
}

func TestRecordView_PrivacyIsSymmetric(t *testing.T) {
	tests := []struct {
		name          string
		ownerPrivacy  bool
		viewerPrivacy bool
		wantViews     int
	}{
		{"neither", false, false, 1},
		{"owner", true, false, 0},
		{"viewer", false, true, 0},
		{"both", true, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			owner := f.addUser(t, "owner", "")
			viewer := f.addUser(t, "viewer", "")
			sec := f.createSecret(t, owner, "s", ShareTarget{Username: "viewer"})
			f.setPrivacy(t, owner, tt.ownerPrivacy)
			f.setPrivacy(t, viewer, tt.viewerPrivacy)

			got, err := f.visibility.RecordView(ctx, sec.ID, principal(viewer))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Len(t, got.SecretViews, tt.wantViews)
		})
	}
}

func TestCanView_ParentOwnerSeesChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	bob := f.addUser(t, "bob", "")
	carol := f.addUser(t, "carol", "")
	parent := f.createSecret(t, alice, "form", ShareTarget{Username: "bob"})

	child, err := f.secrets.Create(ctx, principal(bob), CreateSecretInput{Key: "answer", Value: "42", ParentSecretID: parent.ID})
	require.NoError(t, err)

	assert.True(t, f.visibility.CanView(ctx, child, principal(bob)))
	assert.True(t, f.visibility.CanView(ctx, child, principal(alice)))
	assert.False(t, f.visibility.CanView(ctx, child, principal(carol)))
}

func TestCanView_ByAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	bob := f.addUser(t, "bob", "")
	_, address := newWallet(t)
	sec := f.createSecret(t, alice, "s", ShareTarget{PublicAddress: address})

	assert.False(t, f.visibility.CanView(ctx, sec, principal(bob)))

	_, err := f.store.ClaimAddress(ctx, address, bob.ID)
	require.NoError(t, err)
	assert.True(t, f.visibility.CanView(ctx, sec, principal(bob)))
}

func TestSharedWithMe_GroupsByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	carol := f.addUser(t, "carol", "")
	bob := f.addUser(t, "bob", "")

	f.createSecret(t, carol, "c1", ShareTarget{Username: "bob"})
	f.createSecret(t, alice, "a1", ShareTarget{Username: "bob"})
	f.createSecret(t, alice, "a2", ShareTarget{UserID: bob.ID})
	f.createSecret(t, alice, "not-for-bob", ShareTarget{Username: "dave"})
	f.setPrivacy(t, carol, true)

	groups, err := f.visibility.SharedWithMe(ctx, principal(bob))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, alice.ID, groups[0].Owner.UserID)
	assert.Equal(t, "alice", groups[0].Owner.Username)
	assert.Equal(t, 2, groups[0].Count)
	for _, s := range groups[0].Secrets {
		assert.NotNil(t, s.CreatedAt)
		require.NotNil(t, s.ViewCount)
		assert.Equal(t, 0, *s.ViewCount)
	}

	assert.Equal(t, carol.ID, groups[1].Owner.UserID)
	assert.Equal(t, 1, groups[1].Count)
	assert.Nil(t, groups[1].Secrets[0].CreatedAt)
	assert.Nil(t, groups[1].Secrets[0].ViewCount)
}

func TestSharedWithMe_ViewerPrivacyHidesViewFields(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice", "")
	bob := f.addUser(t, "bob", "")
	f.createSecret(t, alice, "a1", ShareTarget{Username: "bob"})
	f.setPrivacy(t, bob, true)

	groups, err := f.visibility.SharedWithMe(context.Background(), principal(bob))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	s := groups[0].Secrets[0]
	assert.Nil(t, s.CreatedAt)
	assert.Nil(t, s.ViewCount)
	assert.Nil(t, s.SecretViews)
	assert.Equal(t, "v-a1", s.Value)
}

func TestSharedWithMe_AddressScopedShareMustMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	bob := f.addUser(t, "bob", "")
	_, otherAddress := newWallet(t)

	// bob has no address, so the entry keeps the one the sharer typed
	sec := f.createSecret(t, alice, "scoped", ShareTarget{Username: "bob", PublicAddress: otherAddress})
	require.Len(t, sec.SharedWith, 1)
	require.Equal(t, otherAddress, sec.SharedWith[0].PublicAddress)

	groups, err := f.visibility.SharedWithMe(ctx, principal(bob))
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = f.store.ClaimAddress(ctx, otherAddress, bob.ID)
	require.NoError(t, err)
	groups, err = f.visibility.SharedWithMe(ctx, principal(bob))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].Count)
}

func TestSharedWithMe_UsesLatestAddressOverToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	bob := f.addUser(t, "bob", "")
	_, first := newWallet(t)
	_, second := newWallet(t)

	_, err := f.store.ClaimAddress(ctx, first, bob.ID)
	require.NoError(t, err)
	p := principal(bob)
	p.PublicAddress = first

	_, err = f.store.ClaimAddress(ctx, second, bob.ID)
	require.NoError(t, err)
	sec := f.createSecret(t, alice, "latest", ShareTarget{Username: "bob"})
	require.Len(t, sec.SharedWith, 1)
	require.Equal(t, second, sec.SharedWith[0].PublicAddress)

	groups, err := f.visibility.SharedWithMe(ctx, p)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, alice.ID, groups[0].Owner.UserID)
}

func TestViewStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	bob := f.addUser(t, "bob", "")
	carol := f.addUser(t, "carol", "")
	stranger := f.addUser(t, "eve", "")
	sec := f.createSecret(t, alice, "s",
		ShareTarget{Username: "bob"},
		ShareTarget{Username: "carol"},
		ShareTarget{Username: "dave"},
	)
	f.setPrivacy(t, carol, true)

	_, err := f.visibility.RecordView(ctx, sec.ID, principal(bob))
	require.NoError(t, err)

	owner, err := f.visibility.ViewStats(ctx, sec.ID, principal(alice))
	require.NoError(t, err)
	assert.Equal(t, 1, owner.TotalViews)
	assert.Equal(t, 1, owner.UniqueViewers)
	assert.Equal(t, 3, owner.TotalSharedUsers)
	assert.Equal(t, 1, owner.NotViewedUsersCount)
	assert.Equal(t, 1, owner.UnknownCount)
	assert.True(t, owner.IsOwner)
	assert.False(t, owner.HasViewedSecret)
	require.Len(t, owner.Viewers, 1)
	assert.Equal(t, bob.ID, owner.Viewers[0].UserID)
	assert.Equal(t, []string{"dave"}, owner.NotViewedUsers)

	viewer, err := f.visibility.ViewStats(ctx, sec.ID, principal(bob))
	require.NoError(t, err)
	assert.True(t, viewer.HasViewedSecret)
	assert.False(t, viewer.IsOwner)
	assert.Nil(t, viewer.Viewers)
	assert.Nil(t, viewer.NotViewedUsers)

	_, err = f.visibility.ViewStats(ctx, sec.ID, principal(stranger))
	assertKind(t, err, apperr.KindForbidden)

	_, err = f.visibility.ViewStats(ctx, "missing", principal(alice))
	assertKind(t, err, apperr.KindNotFound)
}

func TestUniqueViews_PrefersEntryWithUserID(t *testing.T) {
	views := []models.SecretView{
		{Username: "bob", TelegramID: "5"},
		{Username: "Bob", UserID: "u-bob"},
		{Username: "carol"},
	}

	got := uniqueViews(views)

	require.Len(t, got, 2)
	assert.Equal(t, "u-bob", got[0].UserID)
	assert.Equal(t, "carol", got[1].Username)
}
