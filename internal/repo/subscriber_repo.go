package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// ConfirmedSubscriberEmails returns the addresses of all confirmed
// subscriptions. Addresses are returned as stored; validation happens at
// delivery time.
func ConfirmedSubscriberEmails(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("status = ?", domain.SubscriptionConfirmed).
		Order("email").
		Pluck("email", &out).Error
	return out, err
}

// CreateSubscription inserts a subscriber. It returns ErrDuplicate when the
// email is already subscribed.
func CreateSubscription(ctx context.Context, db *gorm.DB, email, name, status string) (*domain.Subscription, error) {
	sub := &domain.Subscription{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Status:       status,
		SubscribedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(sub).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return sub, nil
}
