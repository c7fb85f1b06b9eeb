package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

// IssueStatus is a published issue with its outstanding deliveries.
type IssueStatus struct {
	Issue    domain.NewsletterIssue
	Pending  int64
	Retrying int64
}

// IssueService provides read-only views over published issues.
type IssueService struct {
	DB *gorm.DB
}

// ListPage returns a page of issues, newest first, and the total count.
func (s *IssueService) ListPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	tr := otel.Tracer("services/IssueService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountIssues(ctx, s.DB)
	if err != nil {
		return nil, 0, newError(KindPersistence, "IssueService.ListPage", err)
	}
	if total == 0 {
		return []domain.NewsletterIssue{}, 0, nil
	}
	items, err := repo.ListIssuesPage(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, newError(KindPersistence, "IssueService.ListPage", err)
	}
	return items, total, nil
}

// Stats returns the issue count and latest publish time, for ETags.
func (s *IssueService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.IssuesStats(ctx, s.DB)
}

// Status returns the issue with id and its delivery progress.
func (s *IssueService) Status(ctx context.Context, id string) (*IssueStatus, error) {
	tr := otel.Tracer("services/IssueService")
	ctx, span := tr.Start(ctx, "Status", trace.WithAttributes(attribute.String("issue.id", id)))
	defer span.End()

	issue, err := repo.GetIssue(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrIssueNotFound
	}
	if err != nil {
		return nil, newError(KindPersistence, "IssueService.Status", err)
	}
	pending, retrying, err := repo.DeliveryStats(ctx, s.DB, id)
	if err != nil {
		return nil, newError(KindPersistence, "IssueService.Status", err)
	}
	return &IssueStatus{Issue: *issue, Pending: pending, Retrying: retrying}, nil
}
