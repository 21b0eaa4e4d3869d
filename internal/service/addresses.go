package service

import (
	"context"
	"strings"
	"time"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// SecretCipher encrypts address secrets at rest. Decrypt returns "" for
// anything it cannot open.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) string
}

// RegisterAddressInput links a wallet address to the caller
type RegisterAddressInput struct {
	PublicKey string
	Signature string
	Secret    string
}

// AddressView is a public address as shown to one of its owners
type AddressView struct {
	ID        string    `json:"id"`
	PublicKey string    `json:"publicKey"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RegisterResult holds either the linked address or a challenge to sign
type RegisterResult struct {
	Address   *AddressView
	Challenge *models.Challenge
}

// AddressService links wallet addresses to accounts
type AddressService struct {
	addresses  repository.AddressStore
	challenges *ChallengeService
	cipher     SecretCipher
	isStaging  bool
	log        *zap.Logger
}

// NewAddressService creates an address service
func NewAddressService(
	addresses repository.AddressStore,
	challenges *ChallengeService,
	cipher SecretCipher,
	isStaging bool,
	log *zap.Logger,
) *AddressService {
	return &AddressService{
		addresses:  addresses,
		challenges: challenges,
		cipher:     cipher,
		isStaging:  isStaging,
		log:        log,
	}
}

// Register claims an address for p. Ethereum addresses must sign a live
// challenge first unless staging; without a signature a challenge is
// returned instead.
func (s *AddressService) Register(ctx context.Context, p auth.Principal, in RegisterAddressInput) (*RegisterResult, error) {
	publicKey := identity.NormalizeAddress(in.PublicKey)
	if publicKey == "" {
		return nil, apperr.BadRequest("publicKey is required")
	}

	if !s.isStaging && identity.IsEthereumAddress(publicKey) {
		if strings.TrimSpace(in.Signature) == "" {
			c, err := s.challenges.CreateChallenge(ctx, publicKey)
			if err != nil {
				return nil, err
			}
			return &RegisterResult{Challenge: c}, nil
		}
		if err := s.challenges.VerifyActiveChallenge(ctx, publicKey, in.Signature); err != nil {
			return nil, err
		}
	}

	addr, err := s.addresses.ClaimAddress(ctx, publicKey, p.ID)
	if err != nil {
		return nil, apperr.Internal("failed to link address", err)
	}

	if in.Secret != "" {
		encrypted, err := s.cipher.Encrypt(in.Secret)
		if err != nil {
			return nil, apperr.Internal("failed to encrypt secret", err)
		}
		if err := s.addresses.SetAddressSecret(ctx, publicKey, encrypted); err != nil {
			return nil, storeErr(err, "address not found")
		}
		addr.EncryptedSecret = encrypted
	}

	s.log.Info("address linked", zap.String("user_id", p.ID), zap.String("public_key", publicKey))
	view := s.view(addr)
	return &RegisterResult{Address: &view}, nil
}

// List returns the caller's addresses, most recently used first, with
// their secrets decrypted.
func (s *AddressService) List(ctx context.Context, p auth.Principal) ([]AddressView, error) {
	list, err := s.addresses.ListAddressesForUser(ctx, p.ID)
	if err != nil {
		return nil, apperr.Internal("failed to list addresses", err)
	}
	views := make([]AddressView, 0, len(list))
	for _, a := range list {
		views = append(views, s.view(a))
	}
	return views, nil
}

// Challenge issues a fresh signing challenge for publicKey
func (s *AddressService) Challenge(ctx context.Context, publicKey string) (*models.Challenge, error) {
	return s.challenges.CreateChallenge(ctx, publicKey)
}

func (s *AddressService) view(a *models.PublicAddress) AddressView {
	v := AddressView{
		ID:        a.ID,
		PublicKey: a.PublicKey,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.EncryptedSecret != "" {
		v.Secret = s.cipher.Decrypt(a.EncryptedSecret)
	}
	return v
}
