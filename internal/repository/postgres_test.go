package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"secretshare-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	store := NewPostgresStoreFromDB(db)
	cleanup := func() { db.Close() }
	return store, mock, cleanup
}

var addressRowColumns = []string{"id", "public_key", "user_ids", "encrypted_secret", "created_at", "updated_at"}

func TestParseUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *ConflictError
	}{
		{
			name: "pgx error with detail",
			err:  &pgconn.PgError{Code: "23505", Detail: "Key (public_key)=(0xabc) already exists."},
			want: &ConflictError{Field: "public_key", Value: "0xabc"},
		},
		{
			name: "lib/pq error with composite key",
			err: fmt.Errorf("wrapped: %w", &pq.Error{
				Code:   "23505",
				Detail: "Key (reporter_user_id, secret_id)=(u2, s1) already exists.",
			}),
			want: &ConflictError{Field: "reporter_user_id, secret_id", Value: "u2, s1"},
		},
		{
			name: "no detail falls back to constraint",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "users_telegram_id_key"},
			want: &ConflictError{Field: "users_telegram_id_key"},
		},
		{
			name: "other postgres error",
			err:  &pgconn.PgError{Code: "23503"},
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseUniqueViolation(tt.err))
		})
	}
}

func TestPostgresStore_CreateAddressConflict(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO public_addresses (id, public_key, user_ids, created_at, updated_at)`)).
		WithArgs(sqlmock.AnyArg(), "0xabc").
		WillReturnError(&pgconn.PgError{Code: "23505", Detail: "Key (public_key)=(0xabc) already exists."})

	_, err := store.CreateAddress(context.Background(), "0xabc")

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "public_key '0xabc' already exists", conflict.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimAddress(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (public_key) DO UPDATE SET`)).
		WithArgs(sqlmock.AnyArg(), "0xabc", "u2").
		WillReturnRows(sqlmock.NewRows(addressRowColumns).AddRow("a1", "0xabc", "{u1,u2}", "", now, now))

	addr, err := store.ClaimAddress(context.Background(), "0xabc", "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, addr.UserIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAddressNotFound(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM public_addresses WHERE public_key = $1`)).
		WithArgs("0xmissing").
		WillReturnRows(sqlmock.NewRows(addressRowColumns))

	_, err := store.GetAddress(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireChallenge(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE challenges SET expires_at = to_timestamp(0) WHERE public_key = $1`)).
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE challenges SET expires_at = to_timestamp(0) WHERE public_key = $1`)).
		WithArgs("0xnone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.ExpireChallenge(context.Background(), "0xabc"))
	assert.ErrorIs(t, store.ExpireChallenge(context.Background(), "0xnone"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendSecretView(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()
	view := models.SecretView{TelegramID: "42", UserID: "u2", Username: "bob"}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE secrets SET secret_views = secret_views || jsonb_build_array($2::jsonb)`)).
		WithArgs("s1", sqlmock.AnyArg(), "42", "u2", "bob").
		WillReturnResult(sqlmock.NewResult(0, 1))

	appended, err := store.AppendSecretView(context.Background(), "s1", view)
	require.NoError(t, err)
	assert.True(t, appended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendSecretViewDuplicate(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()
	view := models.SecretView{UserID: "u2"}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE secrets SET secret_views`)).
		WithArgs("s1", sqlmock.AnyArg(), "", "u2", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM secrets WHERE id = $1 AND is_active)`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	appended, err := store.AppendSecretView(context.Background(), "s1", view)
	require.NoError(t, err)
	assert.False(t, appended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendSecretViewMissingSecret(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE secrets SET secret_views`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.AppendSecretView(context.Background(), "gone", models.SecretView{UserID: "u2"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendShareEntriesReturnsAdded(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING p.previous`)).
		WithArgs("s1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"previous"}).AddRow(`[{"username":"bob","shouldSendTelegramNotification":true}]`))

	added, err := store.AppendShareEntries(context.Background(), "s1", []models.ShareEntry{
		{Username: "bob", UserID: "u2"},
		{Username: "carol", UserID: "u3"},
		{UserID: "u3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.ShareEntry{{Username: "carol", UserID: "u3"}}, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendShareEntriesKeepsAddressCoOwners(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()
	const addr = "0x1111111111111111111111111111111111111111"

	mock.ExpectQuery(regexp.QuoteMeta(`THEN x->>'userId' = n->>'userId'`)).
		WithArgs("s1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"previous"}).AddRow(`[{"userId":"u1","publicAddress":"` + addr + `","shouldSendTelegramNotification":true}]`))

	added, err := store.AppendShareEntries(context.Background(), "s1", []models.ShareEntry{
		{UserID: "u1", PublicAddress: addr},
		{UserID: "u2", PublicAddress: addr},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.ShareEntry{{UserID: "u2", PublicAddress: addr}}, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimShares(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`WITH ORDINALITY`)).
		WithArgs("bob", "u2").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ClaimShares(context.Background(), "bob", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSecretDecodesArrays(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	now := time.Now()
	columns := []string{"id", "user_id", "secret_key", "secret_value", "description", "type", "is_active", "hidden",
		"parent_secret_id", "public_address", "shared_with", "secret_views", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM secrets WHERE id = $1 AND is_active`)).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"s1", "u1", "wifi", "hunter2", "", "note", true, false, "", "0xabc",
			`[{"username":"bob","userId":"u2","shouldSendTelegramNotification":true}]`,
			`[{"userId":"u2","username":"bob","viewedAt":"2024-01-01T00:00:00Z"}]`,
			now, now,
		))

	sec, err := store.GetSecret(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sec.SharedWith, 1)
	assert.Equal(t, "u2", sec.SharedWith[0].UserID)
	require.Len(t, sec.SecretViews, 1)
	assert.Equal(t, "bob", sec.SecretViews[0].Username)
	assert.False(t, sec.IsChild())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateSecretCascades(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`WHERE (id = $1 OR parent_secret_id = $1) AND is_active`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	assert.NoError(t, store.DeactivateSecret(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateReportConflict(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO reports`)).
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (reporter_user_id, secret_id)=(u2, s1) already exists."})

	err := store.CreateReport(context.Background(), &models.Report{
		SecretID:   "s1",
		Reporter:   models.ReportedIdentity{UserID: "u2"},
		ReportType: models.ReportSpam,
	})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "u2, s1", conflict.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReportsFilter(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	now := time.Now()
	columns := []string{"id", "secret_id", "reporter", "reported_user", "report_type", "reason", "resolved", "resolved_at", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM reports`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "s1", `{"userId":"u2"}`, `{"userId":"u1"}`, "spam", "", true, now, now))

	resolved := true
	list, err := store.ListReports(context.Background(), &resolved)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].ReportedUser.UserID)
	require.NotNil(t, list[0].ResolvedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindActiveUserByUsernameQueryError(t *testing.T) {
	store, mock, cleanup := setupPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE lower(username) = lower($1) AND is_active`)).
		WithArgs("bob").
		WillReturnError(errors.New("query failed"))

	_, err := store.FindActiveUserByUsername(context.Background(), "bob")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
