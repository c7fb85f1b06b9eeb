package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidDraft is returned by NewIssueDraft when a required field is blank.
var ErrInvalidDraft = errors.New("invalid newsletter draft")

// NewsletterIssue is a published newsletter. Rows are written once by the
// outbox writer and only read afterwards.
//
// Fields:
//   - ID: UUID primary key, stored as issue_id.
//   - Title: email subject line.
//   - TextContent / HTMLContent: the two bodies sent to every recipient.
//   - PublishedAt: UTC publish time.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"column:issue_id;type:varchar(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"column:text_content;type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"column:html_content;type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// IssueDraft is the validated, NFC-normalized input of a publish request.
type IssueDraft struct {
	Title       string
	TextContent string
	HTMLContent string
}

// NewIssueDraft trims and normalizes the fields and rejects blank ones.
func NewIssueDraft(title, text, html string) (IssueDraft, error) {
	d := IssueDraft{
		Title:       norm.NFC.String(strings.TrimSpace(title)),
		TextContent: norm.NFC.String(text),
		HTMLContent: norm.NFC.String(html),
	}
	switch {
	case d.Title == "":
		return IssueDraft{}, fmt.Errorf("%w: title is required", ErrInvalidDraft)
	case strings.TrimSpace(d.TextContent) == "":
		return IssueDraft{}, fmt.Errorf("%w: text_content is required", ErrInvalidDraft)
	case strings.TrimSpace(d.HTMLContent) == "":
		return IssueDraft{}, fmt.Errorf("%w: html_content is required", ErrInvalidDraft)
	}
	return d, nil
}
