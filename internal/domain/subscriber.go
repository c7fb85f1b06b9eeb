package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Subscription statuses.
const (
	SubscriptionPending   = "pending_confirmation"
	SubscriptionConfirmed = "confirmed"
)

// ErrInvalidSubscriberEmail is returned by ParseSubscriberEmail. The message
// never contains the address.
var ErrInvalidSubscriberEmail = errors.New("invalid subscriber email")

var validate = validator.New()

// SubscriberEmail is an address that passed validation.
type SubscriberEmail string

// ParseSubscriberEmail validates s as an email address.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	if strings.TrimSpace(s) != s {
		return "", fmt.Errorf("%w: surrounding whitespace", ErrInvalidSubscriberEmail)
	}
	if err := validate.Var(s, "required,email"); err != nil {
		return "", ErrInvalidSubscriberEmail
	}
	return SubscriberEmail(s), nil
}

func (e SubscriberEmail) String() string { return string(e) }

// Domain returns the part after '@', useful for logging without the local part.
func (e SubscriberEmail) Domain() string {
	if i := strings.LastIndexByte(string(e), '@'); i >= 0 {
		return string(e)[i+1:]
	}
	return ""
}

// Subscription is a newsletter subscriber. Only confirmed subscriptions
// receive issues.
type Subscription struct {
	ID           string    `json:"id"            gorm:"type:varchar(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;index"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }
