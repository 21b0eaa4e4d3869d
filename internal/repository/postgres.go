package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"secretshare-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

var uniqueDetailRe = regexp.MustCompile(`Key \((.+)\)=\((.*)\) already exists`)

// PostgresStore is the PostgreSQL implementation of Store. Array columns
// (user_ids, shared_with, secret_views) are only changed by single UPDATE
// statements so concurrent writers never lose each other's entries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool with the given driver ("pgx" or
// "postgres") and checks it with a ping.
func NewPostgresStore(ctx context.Context, driver, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RunMigrations executes the migration script
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationSQL string) error {
	if _, err := s.db.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("run migration: %w", err)
	}
	return nil
}

// parseUniqueViolation turns a unique_violation from either driver into a
// *ConflictError. Other errors yield nil.
func parseUniqueViolation(err error) *ConflictError {
	var code, detail, constraint string

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code, detail, constraint = pgErr.Code, pgErr.Detail, pgErr.ConstraintName
	case errors.As(err, &pqErr):
		code, detail, constraint = string(pqErr.Code), pqErr.Detail, pqErr.Constraint
	default:
		return nil
	}

	if code != uniqueViolation {
		return nil
	}
	if m := uniqueDetailRe.FindStringSubmatch(detail); m != nil {
		return &ConflictError{Field: m[1], Value: m[2]}
	}
	return &ConflictError{Field: constraint}
}

// writeErr maps driver errors of write statements
func writeErr(op string, err error) error {
	if conflict := parseUniqueViolation(err); conflict != nil {
		return conflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

// readErr maps driver errors of single-row reads
func readErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func expectRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- UserStore ---

const userColumns = `id, telegram_id, username, first_name, last_name, photo_url, role, is_active,
        sharing_restricted, report_count, privacy_mode, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID,
		&u.TelegramID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.PhotoURL,
		&u.Role,
		&u.IsActive,
		&u.SharingRestricted,
		&u.ReportCount,
		&u.PrivacyMode,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
        INSERT INTO users (id, telegram_id, username, first_name, last_name, photo_url, role, is_active,
            sharing_restricted, report_count, privacy_mode, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.TelegramID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PhotoURL,
		string(user.Role),
		user.IsActive,
		user.SharingRestricted,
		user.ReportCount,
		user.PrivacyMode,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return writeErr("create user", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, readErr("get user by id", err)
	}
	return u, nil
}

func (s *PostgresStore) FindActiveUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_active`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, readErr("find user by id", err)
	}
	return u, nil
}

func (s *PostgresStore) FindActiveUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
        WHERE lower(username) = lower($1) AND is_active
        ORDER BY created_at LIMIT 1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, readErr("find user by username", err)
	}
	return u, nil
}

func (s *PostgresStore) FindActiveUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	if telegramID == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1 AND is_active`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		return nil, readErr("find user by telegram id", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, user *models.User) error {
	query := `
        UPDATE users SET username = $2, first_name = $3, last_name = $4, photo_url = $5,
            telegram_id = $6, privacy_mode = $7, updated_at = now()
        WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.PhotoURL,
		user.TelegramID,
		user.PrivacyMode,
	)
	if err != nil {
		return writeErr("update user", err)
	}
	return expectRows(res, "update user")
}

func (s *PostgresStore) TouchUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return expectRows(res, "touch user")
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return expectRows(res, "set user active")
}

func (s *PostgresStore) SetUserReportState(ctx context.Context, id string, reportCount int, sharingRestricted bool) error {
	query := `UPDATE users SET report_count = $2, sharing_restricted = $3, updated_at = now() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, reportCount, sharingRestricted)
	if err != nil {
		return fmt.Errorf("set user report state: %w", err)
	}
	return expectRows(res, "set user report state")
}

// --- AddressStore ---

const addressColumns = `id, public_key, user_ids, encrypted_secret, created_at, updated_at`

func scanAddress(row rowScanner) (*models.PublicAddress, error) {
	a := &models.PublicAddress{}
	var owners pq.StringArray
	err := row.Scan(&a.ID, &a.PublicKey, &owners, &a.EncryptedSecret, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.UserIDs = []string(owners)
	if a.UserIDs == nil {
		a.UserIDs = []string{}
	}
	return a, nil
}

func (s *PostgresStore) GetAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM public_addresses WHERE public_key = $1`
	a, err := scanAddress(s.db.QueryRowContext(ctx, query, publicKey))
	if err != nil {
		return nil, readErr("get address", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAddress(ctx context.Context, publicKey string) (*models.PublicAddress, error) {
	query := `
        INSERT INTO public_addresses (id, public_key, user_ids, created_at, updated_at)
        VALUES ($1, $2, '{}', now(), now())
        RETURNING ` + addressColumns
	a, err := scanAddress(s.db.QueryRowContext(ctx, query, uuid.NewString(), publicKey))
	if err != nil {
		return nil, writeErr("create address", err)
	}
	return a, nil
}

func (s *PostgresStore) ClaimAddress(ctx context.Context, publicKey, userID string) (*models.PublicAddress, error) {
	query := `
        INSERT INTO public_addresses (id, public_key, user_ids, created_at, updated_at)
        VALUES ($1, $2, ARRAY[$3::text], now(), now())
        ON CONFLICT (public_key) DO UPDATE SET
            user_ids = CASE
                WHEN $3::text = ANY(public_addresses.user_ids) THEN public_addresses.user_ids
                ELSE array_append(public_addresses.user_ids, $3::text)
            END,
            updated_at = now()
        RETURNING ` + addressColumns
	a, err := scanAddress(s.db.QueryRowContext(ctx, query, uuid.NewString(), publicKey, userID))
	if err != nil {
		return nil, writeErr("claim address", err)
	}
	return a, nil
}

func (s *PostgresStore) LatestAddressForUser(ctx context.Context, userID string) (*models.PublicAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM public_addresses
        WHERE $1 = ANY(user_ids) ORDER BY updated_at DESC LIMIT 1`
	a, err := scanAddress(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, readErr("latest address", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAddressesForUser(ctx context.Context, userID string) ([]*models.PublicAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM public_addresses
        WHERE $1 = ANY(user_ids) ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	list := []*models.PublicAddress{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *PostgresStore) SetAddressSecret(ctx context.Context, publicKey, encryptedSecret string) error {
	query := `UPDATE public_addresses SET encrypted_secret = $2, updated_at = now() WHERE public_key = $1`
	res, err := s.db.ExecContext(ctx, query, publicKey, encryptedSecret)
	if err != nil {
		return fmt.Errorf("set address secret: %w", err)
	}
	return expectRows(res, "set address secret")
}

// --- ChallengeStore ---

func (s *PostgresStore) UpsertChallenge(ctx context.Context, c *models.Challenge) error {
	query := `
        INSERT INTO challenges (public_key, challenge, expires_at, expires_in_minutes, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (public_key) DO UPDATE SET
            challenge = EXCLUDED.challenge,
            expires_at = EXCLUDED.expires_at,
            expires_in_minutes = EXCLUDED.expires_in_minutes,
            created_at = EXCLUDED.created_at`
	_, err := s.db.ExecContext(ctx, query, c.PublicKey, c.Challenge, c.ExpiresAt, c.ExpiresInMinutes, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert challenge: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChallenge(ctx context.Context, publicKey string) (*models.Challenge, error) {
	query := `SELECT public_key, challenge, expires_at, expires_in_minutes, created_at
        FROM challenges WHERE public_key = $1`
	c := &models.Challenge{}
	err := s.db.QueryRowContext(ctx, query, publicKey).Scan(
		&c.PublicKey,
		&c.Challenge,
		&c.ExpiresAt,
		&c.ExpiresInMinutes,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, readErr("get challenge", err)
	}
	return c, nil
}

func (s *PostgresStore) ExpireChallenge(ctx context.Context, publicKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE challenges SET expires_at = to_timestamp(0) WHERE public_key = $1`, publicKey)
	if err != nil {
		return fmt.Errorf("expire challenge: %w", err)
	}
	return expectRows(res, "expire challenge")
}
