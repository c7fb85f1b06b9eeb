package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// newSvcDB opens a migrated in-memory database with a single connection.
// Concurrent transactions queue on the pool; newFileDB covers contention on
// the database lock itself.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedSubscribers(t *testing.T, db *gorm.DB, status string, emails ...string) {
	t.Helper()
	for _, e := range emails {
		if _, err := repo.CreateSubscription(context.Background(), db, e, "Sub", status); err != nil {
			t.Fatalf("seed %s: %v", e, err)
		}
	}
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func key(t *testing.T, s string) domain.IdempotencyKey {
	t.Helper()
	k, err := domain.ParseIdempotencyKey(s)
	if err != nil {
		t.Fatalf("ParseIdempotencyKey(%q): %v", s, err)
	}
	return k
}

func draft(t *testing.T) domain.IssueDraft {
	t.Helper()
	d, err := domain.NewIssueDraft("Weekly", "plain body", "<p>html body</p>")
	if err != nil {
		t.Fatalf("NewIssueDraft: %v", err)
	}
	return d
}

// renderAccepted mimics the HTTP layer's response for a published issue.
func renderAccepted(res PublishResult) domain.SavedResponse {
	return domain.SavedResponse{
		Status: 303,
		Headers: domain.HeaderPairs{
			{Name: "Location", Value: "/admin/newsletters"},
			{Name: "X-Newsletter-Issue-Id", Value: res.IssueID},
		},
		Body: []byte("accepted " + res.IssueID),
	}
}

type permanentErr struct{ msg string }

func (e permanentErr) Error() string   { return e.msg }
func (e permanentErr) Permanent() bool { return true }

var errTransient = errors.New("503 service unavailable")

type sentEmail struct {
	To      domain.SubscriberEmail
	Subject string
	HTML    string
	Text    string
}

// fakeSender records sends and returns scripted errors per recipient.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentEmail
	attempts map[string]int
	failWith map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{attempts: map[string]int{}, failWith: map[string]error{}}
}

func (f *fakeSender) SendEmail(_ context.Context, to domain.SubscriberEmail, subject, html, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[to.String()]++
	if err, ok := f.failWith[to.String()]; ok {
		return err
	}
	f.sent = append(f.sent, sentEmail{To: to, Subject: subject, HTML: html, Text: text})
	return nil
}

func (f *fakeSender) attemptsFor(email string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[email]
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
