package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// msgChallengeInvalid is returned for a missing or expired challenge
const msgChallengeInvalid = "challenge not found or expired"

// ChallengeService issues and verifies single-use signing challenges
type ChallengeService struct {
	addresses  repository.AddressStore
	challenges repository.ChallengeStore
	verifier   auth.SignatureVerifier
	appName    string
	minutes    int
	now        func() time.Time
	log        *zap.Logger
}

// NewChallengeService creates a challenge service
func NewChallengeService(
	addresses repository.AddressStore,
	challenges repository.ChallengeStore,
	verifier auth.SignatureVerifier,
	appName string,
	expiresInMinutes int,
	log *zap.Logger,
) *ChallengeService {
	return &ChallengeService{
		addresses:  addresses,
		challenges: challenges,
		verifier:   verifier,
		appName:    appName,
		minutes:    expiresInMinutes,
		now:        time.Now,
		log:        log,
	}
}

// CreateChallenge replaces any live challenge of publicKey with a fresh one
func (s *ChallengeService) CreateChallenge(ctx context.Context, publicKey string) (*models.Challenge, error) {
	publicKey = identity.NormalizeAddress(publicKey)
	if publicKey == "" {
		return nil, apperr.BadRequest("publicKey is required")
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(s.minutes) * time.Minute)
	c := &models.Challenge{
		PublicKey:        publicKey,
		Challenge:        challengeMessage(s.appName, publicKey, uuid.NewString(), now, expiresAt),
		ExpiresAt:        expiresAt,
		ExpiresInMinutes: s.minutes,
		CreatedAt:        now,
	}

	if err := s.ensureAddress(ctx, publicKey); err != nil {
		return nil, err
	}
	if err := s.challenges.UpsertChallenge(ctx, c); err != nil {
		return nil, apperr.Internal("failed to store challenge", err)
	}
	return c, nil
}

// ensureAddress creates the address record if missing. A concurrent
// creation surfaces as a conflict, which means the record now exists.
func (s *ChallengeService) ensureAddress(ctx context.Context, publicKey string) error {
	_, err := s.addresses.GetAddress(ctx, publicKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return apperr.Internal("failed to load address", err)
	}

	_, err = s.addresses.CreateAddress(ctx, publicKey)
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		if _, err := s.addresses.GetAddress(ctx, publicKey); err != nil {
			return apperr.Internal("failed to load address", err)
		}
		return nil
	}
	if err != nil {
		return apperr.Internal("failed to create address", err)
	}
	return nil
}

// VerifyActiveChallenge checks that signature signs the live challenge of
// publicKey. The challenge is consumed whatever the outcome.
func (s *ChallengeService) VerifyActiveChallenge(ctx context.Context, publicKey, signature string) error {
	publicKey = identity.NormalizeAddress(publicKey)

	c, err := s.challenges.GetChallenge(ctx, publicKey)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Unauthorized(msgChallengeInvalid)
	}
	if err != nil {
		return apperr.Internal("failed to load challenge", err)
	}

	if err := s.challenges.ExpireChallenge(ctx, publicKey); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperr.Internal("failed to consume challenge", err)
	}

	if !c.ExpiresAt.After(s.now()) {
		return apperr.Unauthorized(msgChallengeInvalid)
	}

	signer, err := s.verifier.RecoverSigner(c.Challenge, signature)
	if err != nil {
		s.log.Debug("signature recovery failed", zap.String("public_key", publicKey), zap.Error(err))
		return apperr.Unauthorized("invalid signature")
	}
	if !identity.SameAddress(signer, publicKey) {
		return apperr.Unauthorized("signature does not match public address")
	}
	return nil
}

func challengeMessage(appName, publicKey, nonce string, issuedAt, expiresAt time.Time) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your wallet.\n\nAddress: %s\nNonce: %s\nIssued At: %s\nExpires At: %s",
		appName,
		publicKey,
		nonce,
		issuedAt.Format(time.RFC3339),
		expiresAt.Format(time.RFC3339),
	)
}
