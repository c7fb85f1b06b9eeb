package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

const enqueueBatchSize = 500

// EnqueueDeliveryTasks inserts one task per distinct recipient of issueID.
// Recipients that already have a task for the issue are skipped. It returns
// the number of rows inserted.
func EnqueueDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string, recipients []string, now time.Time) (int64, error) {
	seen := make(map[string]struct{}, len(recipients))
	tasks := make([]domain.DeliveryTask, 0, len(recipients))
	now = now.UTC()
	for _, r := range recipients {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		tasks = append(tasks, domain.DeliveryTask{
			IssueID:        issueID,
			RecipientEmail: r,
			ExecuteAfter:   now,
			CreatedAt:      now,
		})
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "issue_id"}, {Name: "recipient_email"}},
			DoNothing: true,
		}).
		CreateInBatches(&tasks, enqueueBatchSize)
	return res.RowsAffected, res.Error
}

// ClaimDeliveryTask locks the oldest task that is due at now. On Postgres
// rows locked by other workers are skipped (FOR UPDATE SKIP LOCKED). SQLite
// has no row locks, so the claim first takes the database write lock; a
// concurrent claimant waits on busy_timeout and then sees the queue as
// changed. It returns ErrNotFound when nothing is due.
func ClaimDeliveryTask(ctx context.Context, db *gorm.DB, now time.Time) (*domain.DeliveryTask, error) {
	now = now.UTC()
	q := db.WithContext(ctx)
	if db.Dialector.Name() == "sqlite" {
		res := q.Exec(`UPDATE delivery_tasks SET n_retries = n_retries
			WHERE rowid = (SELECT rowid FROM delivery_tasks WHERE execute_after <= ? ORDER BY created_at ASC LIMIT 1)`, now)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	} else {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var task domain.DeliveryTask
	err := q.Where("execute_after <= ?", now).
		Order("created_at ASC").
		Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteDeliveryTask removes a task after a terminal outcome.
func DeleteDeliveryTask(ctx context.Context, db *gorm.DB, issueID, recipient string) error {
	return db.WithContext(ctx).
		Where("issue_id = ? AND recipient_email = ?", issueID, recipient).
		Delete(&domain.DeliveryTask{}).Error
}

// UpdateDeliveryTask persists the retry bookkeeping of task.
func UpdateDeliveryTask(ctx context.Context, db *gorm.DB, task domain.DeliveryTask) error {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("issue_id = ? AND recipient_email = ?", task.IssueID, task.RecipientEmail).
		Updates(map[string]any{
			"n_retries":     task.NRetries,
			"execute_after": task.ExecuteAfter.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
