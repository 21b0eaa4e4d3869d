package models

import (
	"strings"
	"time"
)

// Role is the authorization level of a user
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents one human account. Inactive users are invisible to lookups.
type User struct {
	ID                string    `json:"id"`
	TelegramID        string    `json:"telegramId"` // "" means no Telegram account linked
	Username          string    `json:"username"`   // always stored lowercase
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	PhotoURL          string    `json:"photoUrl,omitempty"`
	Role              Role      `json:"role"`
	IsActive          bool      `json:"isActive"`
	SharingRestricted bool      `json:"sharingRestricted"`
	ReportCount       int       `json:"reportCount"`
	PrivacyMode       bool      `json:"privacyMode"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// PublicAddress is a wallet address owned by zero or more users
type PublicAddress struct {
	ID              string    `json:"id"`
	PublicKey       string    `json:"publicKey"`
	UserIDs         []string  `json:"userIds"`
	EncryptedSecret string    `json:"-"` // never expose ciphertext
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasOwner reports whether userID is one of the address owners
func (a *PublicAddress) HasOwner(userID string) bool {
	for _, id := range a.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Challenge is the single live signing challenge of one public address
type Challenge struct {
	PublicKey        string    `json:"publicKey"`
	Challenge        string    `json:"challenge"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresInMinutes int       `json:"expiresInMinutes"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ShareEntry is one recipient of a secret. Any identifier may be missing
// (e.g. a username that has not registered yet).
type ShareEntry struct {
	Username                       string `json:"username,omitempty"`
	UserID                         string `json:"userId,omitempty"`
	PublicAddress                  string `json:"publicAddress,omitempty"`
	ShouldSendTelegramNotification bool   `json:"shouldSendTelegramNotification"`
}

// SameRecipient reports whether e and o address the same recipient. When
// both carry a user id only the ids are compared, so co-owners of one
// address stay distinct. Otherwise username (case-insensitive) or public
// address decide.
func (e ShareEntry) SameRecipient(o ShareEntry) bool {
	if e.UserID != "" && o.UserID != "" {
		return e.UserID == o.UserID
	}
	return (e.Username != "" && strings.EqualFold(e.Username, o.Username)) ||
		(e.PublicAddress != "" && e.PublicAddress == o.PublicAddress)
}

// SecretView records the first time a viewer opened a secret
type SecretView struct {
	TelegramID    string    `json:"telegramId,omitempty"`
	Username      string    `json:"username,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	PublicAddress string    `json:"publicAddress,omitempty"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	ViewedAt      time.Time `json:"viewedAt"`
}

// SameViewer reports whether v and o were recorded for the same viewer,
// matching by Telegram id, user id or username.
func (v SecretView) SameViewer(o SecretView) bool {
	return (v.TelegramID != "" && v.TelegramID == o.TelegramID) ||
		(v.UserID != "" && v.UserID == o.UserID) ||
		(v.Username != "" && strings.EqualFold(v.Username, o.Username))
}

// Secret is a user-owned key/value pair. Children (ParentSecretID != "")
// never have children of their own.
type Secret struct {
	ID             string       `json:"id"`
	UserID         string       `json:"userId"`
	Key            string       `json:"key"`
	Value          string       `json:"value"`
	Description    string       `json:"description"`
	Type           string       `json:"type"`
	IsActive       bool         `json:"isActive"`
	Hidden         bool         `json:"hidden"`
	ParentSecretID string       `json:"parentSecretId,omitempty"`
	PublicAddress  string       `json:"publicAddress,omitempty"`
	SharedWith     []ShareEntry `json:"sharedWith"`
	SecretViews    []SecretView `json:"secretViews"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// IsChild reports whether the secret hangs off a parent secret
func (s *Secret) IsChild() bool {
	return s.ParentSecretID != ""
}

// Clone returns a deep copy so callers can mutate freely
func (s *Secret) Clone() *Secret {
	c := *s
	c.SharedWith = append([]ShareEntry(nil), s.SharedWith...)
	c.SecretViews = append([]SecretView(nil), s.SecretViews...)
	return &c
}

// ReportType classifies a report
type ReportType string

const (
	ReportSpam          ReportType = "spam"
	ReportScam          ReportType = "scam"
	ReportAbuse         ReportType = "abuse"
	ReportInappropriate ReportType = "inappropriate"
	ReportOther         ReportType = "other"
)

// Valid reports whether t is a known report type
func (t ReportType) Valid() bool {
	switch t {
	case ReportSpam, ReportScam, ReportAbuse, ReportInappropriate, ReportOther:
		return true
	}
	return false
}

// ReportedIdentity is a snapshot of a user's identity taken at report time
type ReportedIdentity struct {
	UserID              string `json:"userId,omitempty"`
	Username            string `json:"username,omitempty"`
	TelegramID          string `json:"telegramId,omitempty"`
	LatestPublicAddress string `json:"latestPublicAddress,omitempty"`
}

// Report is a complaint about the owner of a shared secret
type Report struct {
	ID           string           `json:"id"`
	SecretID     string           `json:"secretId"`
	Reporter     ReportedIdentity `json:"reporter"`
	ReportedUser ReportedIdentity `json:"reportedUser"`
	ReportType   ReportType       `json:"reportType"`
	Reason       string           `json:"reason,omitempty"`
	Resolved     bool             `json:"resolved"`
	ResolvedAt   *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// UserFoundInfo is the flattened result of an identity lookup. PublicAddress
// is the user's latest address, not necessarily the one used to find them.
type UserFoundInfo struct {
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	TelegramID    string `json:"telegramId,omitempty"`
	PublicAddress string `json:"publicAddress,omitempty"`
}
