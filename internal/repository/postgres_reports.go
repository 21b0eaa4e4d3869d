package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"secretshare-backend/internal/models"

	"github.com/google/uuid"
)

// --- ReportStore ---

const reportColumns = `id, secret_id, reporter, reported_user, report_type, reason, resolved, resolved_at, created_at`

func scanReport(row rowScanner) (*models.Report, error) {
	r := &models.Report{}
	var reporter, reported []byte
	var resolvedAt sql.NullTime
	err := row.Scan(&r.ID, &r.SecretID, &reporter, &reported, &r.ReportType, &r.Reason, &r.Resolved, &resolvedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reporter, &r.Reporter); err != nil {
		return nil, fmt.Errorf("decode reporter: %w", err)
	}
	if err := json.Unmarshal(reported, &r.ReportedUser); err != nil {
		return nil, fmt.Errorf("decode reported_user: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	return r, nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	report.CreatedAt = time.Now().UTC()

	reporter, err := encodeJSON(report.Reporter)
	if err != nil {
		return fmt.Errorf("encode reporter: %w", err)
	}
	reported, err := encodeJSON(report.ReportedUser)
	if err != nil {
		return fmt.Errorf("encode reported_user: %w", err)
	}

	query := `
        INSERT INTO reports (id, secret_id, reporter, reported_user, report_type, reason, resolved, created_at)
        VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, FALSE, $7)`
	_, err = s.db.ExecContext(ctx, query,
		report.ID,
		report.SecretID,
		reporter,
		reported,
		string(report.ReportType),
		report.Reason,
		report.CreatedAt,
	)
	if err != nil {
		return writeErr("create report", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		return nil, readErr("get report", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, resolved *bool) ([]*models.Report, error) {
	filter := sql.NullBool{}
	if resolved != nil {
		filter = sql.NullBool{Bool: *resolved, Valid: true}
	}

	query := `SELECT ` + reportColumns + ` FROM reports
        WHERE ($1::boolean IS NULL OR resolved = $1::boolean)
        ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, filter)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	list := []*models.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *PostgresStore) ResolveReport(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reports SET resolved = TRUE, resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("resolve report: %w", err)
	}
	return expectRows(res, "resolve report")
}

func (s *PostgresStore) CountUnresolvedReportsAgainst(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM reports WHERE reported_user_id = $1 AND NOT resolved`
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}
