package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/crypto"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentNotification struct {
	To      models.UserFoundInfo
	Message string
}

type recordingNotifier struct {
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient models.UserFoundInfo, message string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{To: recipient, Message: message})
	return nil
}

// fakeTelegram accepts init-data strings registered in data
type fakeTelegram struct {
	data map[string]*auth.TelegramData
}

func (f *fakeTelegram) Validate(raw string) (*auth.TelegramData, error) {
	d, ok := f.data[raw]
	if !ok {
		return nil, errors.New("hash mismatch")
	}
	c := *d
	return &c, nil
}

type fixture struct {
	store      *repository.InMemoryStore
	resolver   *identity.Resolver
	notifier   *recordingNotifier
	telegram   *fakeTelegram
	tokens     *auth.TokenService
	challenges *ChallengeService
	issuer     *TokenIssuer
	auth       *Authenticator
	sharing    *SharingService
	visibility *VisibilityService
	secrets    *SecretService
	reports    *ReportService
	login      *LoginService
	users      *UserService
	addresses  *AddressService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStaging(t, false)
}

func newFixtureWithStaging(t *testing.T, staging bool) *fixture {
	t.Helper()
	log := zap.NewNop()

	f := &fixture{
		store:    repository.NewInMemoryStore(),
		notifier: &recordingNotifier{},
		telegram: &fakeTelegram{data: map[string]*auth.TelegramData{}},
	}
	var err error
	f.tokens, err = auth.NewTokenService("test-secret")
	require.NoError(t, err)
	cipher, err := crypto.NewCipher("address-secret")
	require.NoError(t, err)

	f.resolver = identity.NewResolver(f.store, f.store, log)
	f.challenges = NewChallengeService(f.store, f.store, auth.EthereumVerifier{}, "SecretShare", 5, log)
	f.issuer = NewTokenIssuer(f.tokens, f.store, f.resolver, "15m", "7d", log)
	f.auth = NewAuthenticator(f.tokens, f.telegram, f.store, log)
	f.sharing = NewSharingService(f.resolver, f.store, log)
	f.visibility = NewVisibilityService(f.store, f.store, f.resolver, f.notifier, log)
	f.secrets = NewSecretService(f.store, f.store, f.resolver, f.sharing, f.visibility, f.notifier, log)
	f.reports = NewReportService(f.store, f.store, f.store, f.resolver, 2, log)
	f.login = NewLoginService(f.store, f.store, f.store, f.resolver, f.challenges, f.issuer, f.telegram, staging, log)
	f.users = NewUserService(f.store, f.store, f.resolver, log)
	f.addresses = NewAddressService(f.store, f.challenges, cipher, staging, log)
	return f
}

func (f *fixture) addUser(t *testing.T, username, telegramID string) *models.User {
	t.Helper()
	u := &models.User{Username: username, TelegramID: telegramID, Role: models.RoleUser, IsActive: true}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.store.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func principal(u *models.User) auth.Principal {
	return auth.PrincipalFromUser(u, "")
}

func newWallet(t *testing.T) (*secp256k1.PrivateKey, string) {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return key, auth.PublicKeyAddress(key.PubKey())
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

// createSecret stores a secret for owner through the service
func (f *fixture) createSecret(t *testing.T, owner *models.User, key string, targets ...ShareTarget) *models.Secret {
	t.Helper()
	sec, err := f.secrets.Create(context.Background(), principal(owner), CreateSecretInput{Key: key, Value: "v-" + key, SharedWith: targets})
	require.NoError(t, err)
	return sec
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
