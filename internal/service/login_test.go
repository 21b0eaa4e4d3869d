package service

import (
	"context"
	"testing"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginWithAddress_ChallengeThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, address := newWallet(t)

	// unknown address: sign this first
	res, err := f.login.LoginWithAddress(ctx, address, "")
	require.NoError(t, err)
	require.NotNil(t, res.Challenge)
	assert.Nil(t, res.Tokens)

	sig := auth.SignPersonalMessage(key, res.Challenge.Challenge)
	res, err = f.login.LoginWithAddress(ctx, address, sig)
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.Equal(t, "Bearer", res.Tokens.TokenType)
	assert.Equal(t, address, res.Tokens.User.PublicAddress)
	assert.Empty(t, res.Tokens.User.Username)

	rec, err := f.store.GetAddress(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Tokens.User.ID}, rec.UserIDs)

	_, err = f.login.LoginWithAddress(ctx, address, sig)
	assertKind(t, err, apperr.KindUnauthorized)
	assert.Equal(t, "challenge not found or expired", apperr.Message(err))
}

func TestLoginWithAddress_KnownAddressNeedsSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, address := newWallet(t)

	_, err := f.challenges.CreateChallenge(ctx, address)
	require.NoError(t, err)

	_, err = f.login.LoginWithAddress(ctx, address, "")
	assertKind(t, err, apperr.KindBadRequest)

	_, err = f.login.LoginWithAddress(ctx, "", "")
	assertKind(t, err, apperr.KindBadRequest)
}

func TestLoginWithAddress_LinksExistingOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, address := newWallet(t)
	alice := f.addUser(t, "alice", "")
	_, err := f.store.ClaimAddress(ctx, address, alice.ID)
	require.NoError(t, err)

	c, err := f.challenges.CreateChallenge(ctx, address)
	require.NoError(t, err)

	res, err := f.login.LoginWithAddress(ctx, address, auth.SignPersonalMessage(key, c.Challenge))
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.Equal(t, alice.ID, res.Tokens.User.ID)
	assert.Equal(t, "alice", res.Tokens.User.Username)
}

func TestLoginWithAddress_Staging(t *testing.T) {
	f := newFixtureWithStaging(t, true)
	ctx := context.Background()
	_, address := newWallet(t)

	first, err := f.login.LoginWithAddress(ctx, address, "")
	require.NoError(t, err)
	require.NotNil(t, first.Tokens)

	second, err := f.login.LoginWithAddress(ctx, address, "")
	require.NoError(t, err)
	require.NotNil(t, second.Tokens)
	assert.Equal(t, first.Tokens.User.ID, second.Tokens.User.ID)
}

func TestLoginWithAddress_NonEthereumSkipsSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	solana := "7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV"

	res, err := f.login.LoginWithAddress(ctx, solana, "")
	require.NoError(t, err)
	require.NotNil(t, res.Challenge)

	res, err = f.login.LoginWithAddress(ctx, solana, "")
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.Equal(t, solana, res.Tokens.User.PublicAddress)
}

func TestLoginWithTelegram_RegistersAndClaimsShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addUser(t, "alice", "")
	sec := f.createSecret(t, alice, "wifi", ShareTarget{Username: "Bob"})

	f.telegram.data["bob-init"] = &auth.TelegramData{TelegramID: "777", Username: "Bob", FirstName: "Bob"}

	pair, err := f.login.LoginWithTelegram(ctx, "bob-init")
	require.NoError(t, err)
	assert.Equal(t, "bob", pair.User.Username)
	assert.Equal(t, "777", pair.User.TelegramID)

	stored, err := f.store.GetSecret(ctx, sec.ID)
	require.NoError(t, err)
	require.Len(t, stored.SharedWith, 1)
	assert.Equal(t, pair.User.ID, stored.SharedWith[0].UserID)

	// second login reuses the account
	again, err := f.login.LoginWithTelegram(ctx, "bob-init")
	require.NoError(t, err)
	assert.Equal(t, pair.User.ID, again.User.ID)
}

func TestLoginWithTelegram_TakenUsernameLeftEmpty(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "bob", "")
	f.telegram.data["init"] = &auth.TelegramData{TelegramID: "1", Username: "bob"}

	pair, err := f.login.LoginWithTelegram(context.Background(), "init")
	require.NoError(t, err)
	assert.Empty(t, pair.User.Username)
}

func TestLoginWithTelegram_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.login.LoginWithTelegram(ctx, "")
	assertKind(t, err, apperr.KindUnauthorized)

	_, err = f.login.LoginWithTelegram(ctx, "forged")
	assertKind(t, err, apperr.KindUnauthorized)

	banned := f.addUser(t, "carol", "555")
	require.NoError(t, f.store.SetUserActive(ctx, banned.ID, false))
	f.telegram.data["carol"] = &auth.TelegramData{TelegramID: "555", Username: "carol"}

	_, err = f.login.LoginWithTelegram(ctx, "carol")
	assertKind(t, err, apperr.KindUnauthorized)
	assert.Equal(t, "account deactivated", apperr.Message(err))
}

func TestLoginWithTelegram_RefreshesProfile(t *testing.T) {
	f := newFixture(t)
	u := &models.User{TelegramID: "9", FirstName: "Old", Role: models.RoleUser, IsActive: true}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	f.telegram.data["init"] = &auth.TelegramData{TelegramID: "9", Username: "Dave", FirstName: "New"}

	_, err := f.login.LoginWithTelegram(context.Background(), "init")
	require.NoError(t, err)

	stored := f.reloadUser(t, u.ID)
	assert.Equal(t, "dave", stored.Username)
	assert.Equal(t, "New", stored.FirstName)
}
