// Package services – publishing
//
// This file implements the outbox writer and the publish use case. Publishing
// an issue inserts the issue row and one delivery task per confirmed
// subscriber inside the transaction opened by the IdempotencyGuard, so the
// issue, its tasks and the idempotency response commit or roll back together.
// Delivery itself happens later in DeliveryWorker.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// SubscriberDirectory lists the recipients of a new issue. It is queried
// through db, the publishing transaction, so the snapshot of recipients is
// taken atomically with the fan-out.
type SubscriberDirectory interface {
	ConfirmedSubscribers(ctx context.Context, db *gorm.DB) ([]string, error)
}

// SubscriptionDirectory reads confirmed subscribers from the subscriptions table.
type SubscriptionDirectory struct{}

// ConfirmedSubscribers implements SubscriberDirectory.
func (SubscriptionDirectory) ConfirmedSubscribers(ctx context.Context, db *gorm.DB) ([]string, error) {
	return repo.ConfirmedSubscriberEmails(ctx, db)
}

// PublishResult describes a newly published issue.
type PublishResult struct {
	IssueID  string
	Enqueued int64
}

// OutboxWriter writes an issue and its delivery tasks.
type OutboxWriter struct {
	Directory SubscriberDirectory

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// Publish must be called while holding StartProcessing and before Complete.
// On error the caller aborts itx; nothing written here survives.
func (w *OutboxWriter) Publish(ctx context.Context, itx *IdempotentTx, draft domain.IssueDraft) (PublishResult, error) {
	const op = "OutboxWriter.Publish"
	tr := otel.Tracer("services/OutboxWriter")
	ctx, span := tr.Start(ctx, "Publish")
	defer span.End()

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	dir := w.Directory
	if dir == nil {
		dir = SubscriptionDirectory{}
	}

	tx := itx.DB()
	issue, err := repo.CreateIssue(ctx, tx, draft, now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PublishResult{}, newError(KindPersistence, op, err)
	}
	recipients, err := dir.ConfirmedSubscribers(ctx, tx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PublishResult{}, newError(KindPersistence, op, err)
	}
	n, err := repo.EnqueueDeliveryTasks(ctx, tx, issue.ID, recipients, now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PublishResult{}, newError(KindPersistence, op, err)
	}

	span.SetAttributes(
		attribute.String("issue.id", issue.ID),
		attribute.Int64("delivery.enqueued", n),
	)
	return PublishResult{IssueID: issue.ID, Enqueued: n}, nil
}

// PublishRequest is a validated publish command.
type PublishRequest struct {
	UserID string
	Key    domain.IdempotencyKey
	Draft  domain.IssueDraft
}

// ResponseFunc renders the HTTP response for a freshly published issue. The
// rendered response is stored and replayed verbatim for retries.
type ResponseFunc func(PublishResult) domain.SavedResponse

// PublishService runs the publish use case under the idempotency guard.
type PublishService struct {
	Guard  *IdempotencyGuard
	Outbox *OutboxWriter
}

// Publish returns the response for req. replayed is true when the response
// comes from an earlier request with the same key and nothing was written.
func (s *PublishService) Publish(ctx context.Context, req PublishRequest, render ResponseFunc) (resp *domain.SavedResponse, replayed bool, err error) {
	tr := otel.Tracer("services/PublishService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer span.End()

	next, err := s.Guard.Begin(ctx, req.UserID, req.Key)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if next.Kind == ReturnSavedResponse {
		span.SetAttributes(attribute.Bool("idempotency.replay", true))
		return next.Response, true, nil
	}

	itx := next.Tx
	defer func() { _ = s.Guard.Abort(itx) }()

	res, err := s.Outbox.Publish(ctx, itx, req.Draft)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	saved, err := s.Guard.Complete(ctx, itx, render(res))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return saved, false, nil
}
