package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateIssue inserts a newsletter issue with a fresh UUID.
func CreateIssue(ctx context.Context, db *gorm.DB, draft domain.IssueDraft, now time.Time) (*domain.NewsletterIssue, error) {
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       draft.Title,
		TextContent: draft.TextContent,
		HTMLContent: draft.HTMLContent,
		PublishedAt: now.UTC(),
	}
	if err := db.WithContext(ctx).Create(issue).Error; err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssue returns the issue with id, or ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var issue domain.NewsletterIssue
	err := db.WithContext(ctx).Where("issue_id = ?", id).Take(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// CountIssues returns the number of published issues.
func CountIssues(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&n).Error
	return n, err
}

// ListIssuesPage returns issues newest first.
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, error) {
	var out []domain.NewsletterIssue
	err := db.WithContext(ctx).
		Order("published_at DESC").
		Order("issue_id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
