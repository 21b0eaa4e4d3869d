package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// SignatureVerifier recovers the address that signed a message
type SignatureVerifier interface {
	RecoverSigner(message, signature string) (string, error)
}

// EthereumVerifier recovers signers of personal_sign (EIP-191) signatures
type EthereumVerifier struct{}

// RecoverSigner returns the lowercase 0x address whose key produced
// signature over message. signature is hex [R || S || V].
func (EthereumVerifier) RecoverSigner(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", errors.New("invalid signature recovery id")
	}

	// secp256k1 compact form is [27 + recid][R][S]
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, personalMessageHash(message))
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return PublicKeyAddress(pub), nil
}

// PublicKeyAddress derives the lowercase Ethereum address of pub
func PublicKeyAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	return "0x" + hex.EncodeToString(keccak256(raw[1:])[12:])
}

// SignPersonalMessage produces a personal_sign signature the way wallets do
func SignPersonalMessage(key *secp256k1.PrivateKey, message string) string {
	compact := ecdsa.SignCompact(key, personalMessageHash(message), false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

func personalMessageHash(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return keccak256([]byte(prefix), []byte(message))
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
