package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"secretshare-backend/internal/models"

	"github.com/google/uuid"
)

const secretColumns = `id, user_id, secret_key, secret_value, description, type, is_active, hidden,
        COALESCE(parent_secret_id, ''), public_address, shared_with, secret_views, created_at, updated_at`

func scanSecret(row rowScanner) (*models.Secret, error) {
	sec := &models.Secret{}
	var sharedWith, views []byte
	err := row.Scan(
		&sec.ID,
		&sec.UserID,
		&sec.Key,
		&sec.Value,
		&sec.Description,
		&sec.Type,
		&sec.IsActive,
		&sec.Hidden,
		&sec.ParentSecretID,
		&sec.PublicAddress,
		&sharedWith,
		&views,
		&sec.CreatedAt,
		&sec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sec.SharedWith, err = decodeShares(sharedWith); err != nil {
		return nil, err
	}
	sec.SecretViews = []models.SecretView{}
	if len(views) > 0 {
		if err := json.Unmarshal(views, &sec.SecretViews); err != nil {
			return nil, fmt.Errorf("decode secret_views: %w", err)
		}
	}
	return sec, nil
}

func decodeShares(raw []byte) ([]models.ShareEntry, error) {
	entries := []models.ShareEntry{}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode shared_with: %w", err)
	}
	return entries, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *PostgresStore) querySecrets(ctx context.Context, op, query string, args ...any) ([]*models.Secret, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	list := []*models.Secret{}
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		list = append(list, sec)
	}
	return list, rows.Err()
}

func (s *PostgresStore) CreateSecret(ctx context.Context, secret *models.Secret) error {
	if secret.ID == "" {
		secret.ID = uuid.NewString()
	}
	if secret.SharedWith == nil {
		secret.SharedWith = []models.ShareEntry{}
	}
	if secret.SecretViews == nil {
		secret.SecretViews = []models.SecretView{}
	}
	now := time.Now().UTC()
	secret.CreatedAt = now
	secret.UpdatedAt = now
	secret.IsActive = true

	sharedWith, err := encodeJSON(secret.SharedWith)
	if err != nil {
		return fmt.Errorf("encode shared_with: %w", err)
	}

	query := `
        INSERT INTO secrets (id, user_id, secret_key, secret_value, description, type, is_active, hidden,
            parent_secret_id, public_address, shared_with, secret_views, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NULLIF($8, ''), $9, $10::jsonb, '[]', $11, $11)`

	_, err = s.db.ExecContext(ctx, query,
		secret.ID,
		secret.UserID,
		secret.Key,
		secret.Value,
		secret.Description,
		secret.Type,
		secret.Hidden,
		secret.ParentSecretID,
		secret.PublicAddress,
		sharedWith,
		now,
	)
	if err != nil {
		return writeErr("create secret", err)
	}
	return nil
}

func (s *PostgresStore) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE id = $1 AND is_active`
	sec, err := scanSecret(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, readErr("get secret", err)
	}
	return sec, nil
}

func (s *PostgresStore) ListSecretsByOwner(ctx context.Context, userID string, includeHidden bool) ([]*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets
        WHERE user_id = $1 AND is_active AND parent_secret_id IS NULL AND ($2 OR NOT hidden)
        ORDER BY created_at DESC`
	return s.querySecrets(ctx, "list secrets", query, userID, includeHidden)
}

func (s *PostgresStore) ListChildSecrets(ctx context.Context, parentID string) ([]*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets
        WHERE parent_secret_id = $1 AND is_active
        ORDER BY created_at DESC`
	return s.querySecrets(ctx, "list child secrets", query, parentID)
}

func (s *PostgresStore) FindSharedWith(ctx context.Context, userID, username, publicAddress string) ([]*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets
        WHERE is_active AND parent_secret_id IS NULL AND EXISTS (
            SELECT 1 FROM jsonb_array_elements(shared_with) e
            WHERE ($1 <> '' AND e->>'userId' = $1)
               OR ($2 <> '' AND lower(e->>'username') = lower($2))
               OR ($3 <> '' AND e->>'publicAddress' = $3)
        )
        ORDER BY created_at DESC`
	return s.querySecrets(ctx, "find shared secrets", query, userID, username, publicAddress)
}

func (s *PostgresStore) UpdateSecretFields(ctx context.Context, secret *models.Secret) error {
	query := `
        UPDATE secrets SET secret_key = $2, secret_value = $3, description = $4, type = $5, updated_at = now()
        WHERE id = $1 AND is_active`
	res, err := s.db.ExecContext(ctx, query, secret.ID, secret.Key, secret.Value, secret.Description, secret.Type)
	if err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	return expectRows(res, "update secret")
}

func (s *PostgresStore) SetSecretHidden(ctx context.Context, id string, hidden bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE secrets SET hidden = $2, updated_at = now() WHERE id = $1 AND is_active`, id, hidden)
	if err != nil {
		return fmt.Errorf("set secret hidden: %w", err)
	}
	return expectRows(res, "set secret hidden")
}

func (s *PostgresStore) ReplaceSharedWith(ctx context.Context, id string, entries []models.ShareEntry) error {
	if entries == nil {
		entries = []models.ShareEntry{}
	}
	payload, err := encodeJSON(entries)
	if err != nil {
		return fmt.Errorf("encode shared_with: %w", err)
	}
	query := `UPDATE secrets SET shared_with = $2::jsonb, updated_at = now() WHERE id = $1 AND is_active`
	res, err := s.db.ExecContext(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("replace shared_with: %w", err)
	}
	return expectRows(res, "replace shared_with")
}

// AppendShareEntries locks the row in the FROM clause so the returned
// previous array is exactly what the append was applied to.
func (s *PostgresStore) AppendShareEntries(ctx context.Context, id string, entries []models.ShareEntry) ([]models.ShareEntry, error) {
	entries = dedupeShares(entries)
	payload, err := encodeJSON(entries)
	if err != nil {
		return nil, fmt.Errorf("encode shared_with: %w", err)
	}

	query := `
        UPDATE secrets s SET shared_with = s.shared_with || COALESCE((
            SELECT jsonb_agg(n) FROM jsonb_array_elements($2::jsonb) n
            WHERE NOT EXISTS (
                SELECT 1 FROM jsonb_array_elements(p.previous) x
                WHERE CASE
                    WHEN COALESCE(n->>'userId', '') <> '' AND COALESCE(x->>'userId', '') <> ''
                        THEN x->>'userId' = n->>'userId'
                    ELSE (COALESCE(n->>'username', '') <> '' AND lower(x->>'username') = lower(n->>'username'))
                        OR (COALESCE(n->>'publicAddress', '') <> '' AND x->>'publicAddress' = n->>'publicAddress')
                END
            )
        ), '[]'::jsonb), updated_at = now()
        FROM (SELECT id, shared_with AS previous FROM secrets WHERE id = $1 AND is_active FOR UPDATE) p
        WHERE s.id = p.id
        RETURNING p.previous`

	var previousRaw []byte
	if err := s.db.QueryRowContext(ctx, query, id, payload).Scan(&previousRaw); err != nil {
		return nil, readErr("append shares", err)
	}
	previous, err := decodeShares(previousRaw)
	if err != nil {
		return nil, err
	}
	return newShares(previous, entries), nil
}

// dedupeShares drops entries naming a recipient seen earlier in the list
func dedupeShares(entries []models.ShareEntry) []models.ShareEntry {
	return newShares(nil, entries)
}

// newShares returns the entries of candidates that match no entry of
// existing nor an earlier candidate.
func newShares(existing, candidates []models.ShareEntry) []models.ShareEntry {
	seen := append([]models.ShareEntry{}, existing...)
	added := []models.ShareEntry{}
next:
	for _, c := range candidates {
		for _, e := range seen {
			if c.SameRecipient(e) {
				continue next
			}
		}
		seen = append(seen, c)
		added = append(added, c)
	}
	return added
}

func (s *PostgresStore) ClaimShares(ctx context.Context, username, userID string) (int64, error) {
	query := `
        UPDATE secrets SET shared_with = (
            SELECT jsonb_agg(
                CASE WHEN COALESCE(e->>'userId', '') = '' AND lower(e->>'username') = lower($1)
                    THEN e || jsonb_build_object('userId', $2::text)
                    ELSE e
                END ORDER BY i)
            FROM jsonb_array_elements(shared_with) WITH ORDINALITY AS t(e, i)
        ), updated_at = now()
        WHERE is_active AND EXISTS (
            SELECT 1 FROM jsonb_array_elements(shared_with) e
            WHERE COALESCE(e->>'userId', '') = '' AND lower(e->>'username') = lower($1)
        )`
	res, err := s.db.ExecContext(ctx, query, username, userID)
	if err != nil {
		return 0, fmt.Errorf("claim shares: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) AppendSecretView(ctx context.Context, id string, view models.SecretView) (bool, error) {
	payload, err := encodeJSON(view)
	if err != nil {
		return false, fmt.Errorf("encode view: %w", err)
	}

	query := `
        UPDATE secrets SET secret_views = secret_views || jsonb_build_array($2::jsonb)
        WHERE id = $1 AND is_active AND NOT EXISTS (
            SELECT 1 FROM jsonb_array_elements(secret_views) v
            WHERE ($3 <> '' AND v->>'telegramId' = $3)
               OR ($4 <> '' AND v->>'userId' = $4)
               OR ($5 <> '' AND lower(v->>'username') = lower($5))
        )`
	res, err := s.db.ExecContext(ctx, query, id, payload, view.TelegramID, view.UserID, view.Username)
	if err != nil {
		return false, fmt.Errorf("append view: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append view: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM secrets WHERE id = $1 AND is_active)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("append view: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) DeactivateSecret(ctx context.Context, id string) error {
	query := `UPDATE secrets SET is_active = FALSE, updated_at = now()
        WHERE (id = $1 OR parent_secret_id = $1) AND is_active`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate secret: %w", err)
	}
	return expectRows(res, "deactivate secret")
}
