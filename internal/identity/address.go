// Package identity reconciles the different ways a user can be named
// (user id, username, Telegram id, public address) into one identity.
package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const minAddressLength = 26

var (
	ethereumAddressRe = regexp.MustCompile(`^0[xX][a-fA-F0-9]{40}$`)

	addressPatterns = []*regexp.Regexp{
		ethereumAddressRe,
		regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`), // bitcoin P2PKH / P2SH
		regexp.MustCompile(`^bc1[a-z0-9]{39,59}$`),              // bitcoin bech32
		regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`),     // solana base58
		regexp.MustCompile(`^[a-fA-F0-9]{32,}$`),                // generic hex key
		regexp.MustCompile(`^(0x|bc1|ltc1|addr1)[a-zA-Z0-9]+$`),
	}

	alphanumericRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	upperRe        = regexp.MustCompile(`[A-Z]`)
	lowerRe        = regexp.MustCompile(`[a-z]`)
	digitRe        = regexp.MustCompile(`[0-9]`)
)

// IsPublicAddress guesses whether a search string is a wallet address rather
// than a username. It is a heuristic, not a validator: short or unusual
// address formats can be classified as usernames and long mixed-case
// usernames as addresses.
func IsPublicAddress(query string) bool {
	query = strings.TrimSpace(query)
	if len(query) < minAddressLength {
		return false
	}

	for _, re := range addressPatterns {
		if re.MatchString(query) {
			return true
		}
	}

	if !alphanumericRe.MatchString(query) {
		return false
	}
	mixedCase := upperRe.MatchString(query) && lowerRe.MatchString(query)
	longWithDigits := digitRe.MatchString(query) && len(query) >= 32
	return mixedCase || longWithDigits
}

// IsEthereumAddress reports whether address is 0x (either case) followed by
// 40 hex chars. Only these addresses go through signature verification.
func IsEthereumAddress(address string) bool {
	return ethereumAddressRe.MatchString(strings.TrimSpace(address))
}

// IsUserID reports whether s has the shape of an internal user id
func IsUserID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// SameAddress compares two addresses. Ethereum addresses are hex and
// compare case-insensitively; other formats (base58) are case-sensitive.
func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if IsEthereumAddress(a) && IsEthereumAddress(b) {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// NormalizeUsername lowercases and trims a username, dropping a leading "@"
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
