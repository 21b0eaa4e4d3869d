package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	initdata "github.com/telegram-mini-apps/init-data-golang"
)

// ErrTelegramDisabled is returned when no bot token is configured
var ErrTelegramDisabled = errors.New("telegram authentication is not configured")

// TelegramData is the parsed, verified content of Telegram init-data
type TelegramData struct {
	TelegramID string
	Username   string
	FirstName  string
	LastName   string
	PhotoURL   string
	AuthDate   time.Time
	Hash       string
}

// TelegramValidator verifies raw init-data and parses it
type TelegramValidator interface {
	Validate(raw string) (*TelegramData, error)
}

// InitDataValidator checks init-data signed with the bot token
type InitDataValidator struct {
	botToken string
	maxAge   time.Duration
}

// NewInitDataValidator creates a validator. maxAge <= 0 disables the
// freshness check.
func NewInitDataValidator(botToken string, maxAge time.Duration) *InitDataValidator {
	return &InitDataValidator{botToken: botToken, maxAge: maxAge}
}

func (v *InitDataValidator) Validate(raw string) (*TelegramData, error) {
	if v.botToken == "" {
		return nil, ErrTelegramDisabled
	}

	if err := initdata.Validate(raw, v.botToken, v.maxAge); err != nil {
		return nil, fmt.Errorf("validate init data: %w", err)
	}

	data, err := initdata.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}
	if data.User.ID == 0 {
		return nil, errors.New("init data has no user")
	}

	return &TelegramData{
		TelegramID: strconv.FormatInt(data.User.ID, 10),
		Username:   data.User.Username,
		FirstName:  data.User.FirstName,
		LastName:   data.User.LastName,
		PhotoURL:   data.User.PhotoURL,
		AuthDate:   data.AuthDate(),
		Hash:       data.Hash,
	}, nil
}
