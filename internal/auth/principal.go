package auth

import "secretshare-backend/internal/models"

// Principal is the canonical "who is calling". PublicAddress may be empty
// when the caller authenticated with Telegram; it is resolved lazily.
type Principal struct {
	ID            string      `json:"id"`
	TelegramID    string      `json:"telegramId,omitempty"`
	Username      string      `json:"username"`
	FirstName     string      `json:"firstName,omitempty"`
	LastName      string      `json:"lastName,omitempty"`
	PublicAddress string      `json:"publicAddress,omitempty"`
	Role          models.Role `json:"role"`
}

// IsAdmin reports whether the principal holds the admin role
func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

// PrincipalFromUser builds a principal from a stored user
func PrincipalFromUser(u *models.User, publicAddress string) Principal {
	return Principal{
		ID:            u.ID,
		TelegramID:    u.TelegramID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PublicAddress: publicAddress,
		Role:          u.Role,
	}
}

// Outcome is the result of authenticating a request: either JWTOutcome or
// TelegramOutcome.
type Outcome interface {
	Principal() Principal
	isOutcome()
}

// JWTOutcome carries a principal authenticated with a bearer token
type JWTOutcome struct {
	User   Principal
	Claims *Claims
}

func (o JWTOutcome) Principal() Principal { return o.User }
func (JWTOutcome) isOutcome()             {}

// TelegramOutcome carries a principal authenticated with init-data
type TelegramOutcome struct {
	User Principal
	Data *TelegramData
}

func (o TelegramOutcome) Principal() Principal { return o.User }
func (TelegramOutcome) isOutcome()             {}
