package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"secretshare-backend/internal/apperr"
	"secretshare-backend/internal/auth"
	"secretshare-backend/internal/identity"
	"secretshare-backend/internal/models"
	"secretshare-backend/internal/repository"

	"go.uber.org/zap"
)

// CreateReportInput is a complaint filed by a recipient of a secret
type CreateReportInput struct {
	SecretID   string
	ReportType models.ReportType
	Reason     string
}

// ReportService files reports and keeps the reported user's restriction
// state in sync with the number of open reports.
type ReportService struct {
	reports   repository.ReportStore
	secrets   repository.SecretStore
	users     repository.UserStore
	resolver  *identity.Resolver
	threshold int
	now       func() time.Time
	log       *zap.Logger
}

// NewReportService creates a report service. Users with at least threshold
// open reports become sharing-restricted.
func NewReportService(
	reports repository.ReportStore,
	secrets repository.SecretStore,
	users repository.UserStore,
	resolver *identity.Resolver,
	threshold int,
	log *zap.Logger,
) *ReportService {
	return &ReportService{
		reports:   reports,
		secrets:   secrets,
		users:     users,
		resolver:  resolver,
		threshold: threshold,
		now:       time.Now,
		log:       log,
	}
}

// sharedDirectly reports whether p is a recipient on secret itself.
// Owning the parent of a child secret does not count.
func sharedDirectly(secret *models.Secret, p auth.Principal, address string) bool {
	for _, e := range secret.SharedWith {
		if matchesRecipient(e, p.ID, p.Username, address) {
			return true
		}
	}
	return false
}

// Create reports the owner of a secret shared with p
func (s *ReportService) Create(ctx context.Context, p auth.Principal, in CreateReportInput) (*models.Report, error) {
	if !in.ReportType.Valid() {
		return nil, apperr.BadRequest("invalid report type")
	}
	reason := strings.TrimSpace(in.Reason)
	if in.ReportType == models.ReportOther && reason == "" {
		return nil, apperr.BadRequest("reason is required for reports of type other")
	}

	secret, err := s.secrets.GetSecret(ctx, in.SecretID)
	if err != nil {
		return nil, storeErr(err, "secret not found")
	}
	if secret.UserID == p.ID {
		return nil, apperr.BadRequest("you cannot report your own secret")
	}
	reporterAddress := principalAddress(ctx, s.resolver, p)
	if !sharedDirectly(secret, p, reporterAddress) {
		return nil, apperr.Forbidden("you can only report secrets shared with you")
	}

	reported := models.ReportedIdentity{UserID: secret.UserID, LatestPublicAddress: secret.PublicAddress}
	if owner := s.resolver.FindUserByAnyInfo(ctx, identity.Query{UserID: secret.UserID}); owner != nil {
		reported = snapshot(*owner)
	}

	report := &models.Report{
		SecretID: secret.ID,
		Reporter: models.ReportedIdentity{
			UserID:              p.ID,
			Username:            p.Username,
			TelegramID:          p.TelegramID,
			LatestPublicAddress: reporterAddress,
		},
		ReportedUser: reported,
		ReportType:   in.ReportType,
		Reason:       reason,
	}

	err = s.reports.CreateReport(ctx, report)
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		return nil, apperr.Conflict("you already have an open report for this secret")
	}
	if err != nil {
		return nil, apperr.Internal("failed to create report", err)
	}

	s.log.Info("report created",
		zap.String("report_id", report.ID),
		zap.String("secret_id", secret.ID),
		zap.String("reported_user_id", secret.UserID),
		zap.String("type", string(report.ReportType)))

	if err := s.refreshReportState(ctx, secret.UserID); err != nil {
		return nil, err
	}
	return report, nil
}

// List returns reports, optionally filtered by resolution state
func (s *ReportService) List(ctx context.Context, resolved *bool) ([]*models.Report, error) {
	list, err := s.reports.ListReports(ctx, resolved)
	if err != nil {
		return nil, apperr.Internal("failed to list reports", err)
	}
	return list, nil
}

// Resolve closes a report and lifts the restriction of the reported user
// once they fall below the threshold.
func (s *ReportService) Resolve(ctx context.Context, id string) (*models.Report, error) {
	report, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, storeErr(err, "report not found")
	}
	if report.Resolved {
		return report, nil
	}

	if err := s.reports.ResolveReport(ctx, id, s.now().UTC()); err != nil {
		return nil, storeErr(err, "report not found")
	}
	if err := s.refreshReportState(ctx, report.ReportedUser.UserID); err != nil {
		return nil, err
	}

	report, err = s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, storeErr(err, "report not found")
	}
	return report, nil
}

func (s *ReportService) refreshReportState(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	count, err := s.reports.CountUnresolvedReportsAgainst(ctx, userID)
	if err != nil {
		return apperr.Internal("failed to count reports", err)
	}
	restricted := count >= s.threshold
	if err := s.users.SetUserReportState(ctx, userID, count, restricted); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Internal("failed to update report state", err)
	}
	if restricted {
		s.log.Info("user sharing restricted", zap.String("user_id", userID), zap.Int("open_reports", count))
	}
	return nil
}

func snapshot(info models.UserFoundInfo) models.ReportedIdentity {
	return models.ReportedIdentity{
		UserID:              info.UserID,
		Username:            info.Username,
		TelegramID:          info.TelegramID,
		LatestPublicAddress: info.PublicAddress,
	}
}
