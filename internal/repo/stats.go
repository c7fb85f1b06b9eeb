// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) and delivery status reporting in
// the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// IssuesStats returns the number of published issues and the greatest
// PublishedAt among them. When there are no issues, the count is 0 and
// latest is nil.
func IssuesStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.NewsletterIssue{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest published_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		PublishedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.NewsletterIssue{}).
		Select("published_at").Order("published_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.PublishedAt, nil
}

// DeliveryStats counts the outstanding tasks of one issue. Retrying tasks are
// the subset that already failed at least once.
func DeliveryStats(ctx context.Context, db *gorm.DB, issueID string) (pending, retrying int64, err error) {
	if err = db.WithContext(ctx).Model(&domain.DeliveryTask{}).
		Where("issue_id = ?", issueID).
		Count(&pending).Error; err != nil {
		return 0, 0, err
	}
	if pending == 0 {
		return 0, 0, nil
	}
	if err = db.WithContext(ctx).Model(&domain.DeliveryTask{}).
		Where("issue_id = ? AND n_retries > 0", issueID).
		Count(&retrying).Error; err != nil {
		return 0, 0, err
	}
	return pending, retrying, nil
}

// QueueDepth returns the total number of outstanding delivery tasks.
func QueueDepth(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DeliveryTask{}).Count(&n).Error
	return n, err
}
