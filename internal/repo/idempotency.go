package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// InsertPlaceholder tries to claim (userID, key) with a response-less row.
// It reports true when this call inserted the row. When another transaction
// holds an uncommitted row for the same key, Postgres blocks the insert until
// that transaction ends, then reports false if it committed.
func InsertPlaceholder(ctx context.Context, db *gorm.DB, userID string, key domain.IdempotencyKey) (bool, error) {
	rec := domain.IdempotencyRecord{
		UserID:         userID,
		IdempotencyKey: key.String(),
		CreatedAt:      time.Now().UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetSavedResponse loads the response stored for (userID, key). It returns
// ErrNotFound when no row exists and ErrResponsePending for a placeholder.
func GetSavedResponse(ctx context.Context, db *gorm.DB, userID string, key domain.IdempotencyKey) (*domain.SavedResponse, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key.String()).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	resp, ok := rec.SavedResponse()
	if !ok {
		return nil, ErrResponsePending
	}
	return resp, nil
}

// SaveResponse fills in the placeholder for (userID, key).
func SaveResponse(ctx context.Context, db *gorm.DB, userID string, key domain.IdempotencyKey, resp domain.SavedResponse) error {
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	headers := resp.Headers
	if headers == nil {
		headers = domain.HeaderPairs{}
	}
	res := db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("user_id = ? AND idempotency_key = ?", userID, key.String()).
		Updates(map[string]any{
			"response_status":  resp.Status,
			"response_headers": headers,
			"response_body":    body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("save response for key %q: %w", key, ErrNotFound)
	}
	return nil
}
