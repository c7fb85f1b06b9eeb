// Package services – IdempotencyGuard
//
// The guard serializes requests that share a (user, idempotency key) pair.
// Begin inserts a placeholder row inside a fresh transaction. The caller
// that inserted it proceeds with the side effects on that same transaction
// and stores the response with Complete, which commits everything at once.
// A concurrent caller's insert waits on the uncommitted row and, once the
// first transaction commits, reads back the saved response instead of
// executing again. If the first transaction rolls back, the waiting insert
// succeeds and that caller processes the request.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// ActionKind tells the caller of Begin what to do next.
type ActionKind int

const (
	// StartProcessing: this caller owns the key and holds an open transaction.
	StartProcessing ActionKind = iota + 1
	// ReturnSavedResponse: the request already completed; replay the response.
	ReturnSavedResponse
)

// NextAction is the result of IdempotencyGuard.Begin. Exactly one of Tx and
// Response is set, according to Kind.
type NextAction struct {
	Kind     ActionKind
	Tx       *IdempotentTx
	Response *domain.SavedResponse
}

// IdempotentTx is the open transaction holding the placeholder row.
type IdempotentTx struct {
	tx     *repo.Tx
	userID string
	key    domain.IdempotencyKey
}

// DB returns the transaction handle. Every write that must commit together
// with the idempotency record goes through it.
func (t *IdempotentTx) DB() *gorm.DB { return t.tx.DB }

// UserID returns the owner of the key.
func (t *IdempotentTx) UserID() string { return t.userID }

// Key returns the idempotency key.
func (t *IdempotentTx) Key() domain.IdempotencyKey { return t.key }

// IdempotencyGuard deduplicates requests by (user, key).
type IdempotencyGuard struct {
	DB *gorm.DB

	// AcquireTimeout bounds the wait for a pooled connection.
	AcquireTimeout time.Duration
	// LockTimeout bounds the wait on a concurrent request holding the same key.
	LockTimeout time.Duration
}

// Begin claims (userID, key) or returns the response saved by an earlier
// request under the same pair.
func (g *IdempotencyGuard) Begin(ctx context.Context, userID string, key domain.IdempotencyKey) (NextAction, error) {
	const op = "IdempotencyGuard.Begin"
	tr := otel.Tracer("services/IdempotencyGuard")
	ctx, span := tr.Start(ctx, "Begin", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	tx, err := repo.BeginTx(ctx, g.DB, g.AcquireTimeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return NextAction{}, newError(KindPersistence, op, err)
	}
	if err := tx.SetLockTimeout(g.LockTimeout); err != nil {
		_ = tx.Rollback()
		return NextAction{}, newError(KindPersistence, op, err)
	}

	inserted, err := repo.InsertPlaceholder(ctx, tx.DB, userID, key)
	if err != nil {
		_ = tx.Rollback()
		span.SetStatus(codes.Error, err.Error())
		if repo.IsLockTimeout(err) {
			return NextAction{}, newError(KindLockWait, op, err)
		}
		return NextAction{}, newError(KindPersistence, op, err)
	}
	if inserted {
		span.SetAttributes(attribute.String("idempotency.action", "start_processing"))
		return NextAction{
			Kind: StartProcessing,
			Tx:   &IdempotentTx{tx: tx, userID: userID, key: key},
		}, nil
	}

	// The conflicting row is committed by now; read it in this transaction
	// (read committed sees rows committed before each statement).
	resp, err := repo.GetSavedResponse(ctx, tx.DB, userID, key)
	_ = tx.Rollback()
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("idempotency.action", "return_saved_response"))
		return NextAction{Kind: ReturnSavedResponse, Response: resp}, nil
	case errors.Is(err, repo.ErrResponsePending):
		return NextAction{}, newError(KindLockWait, op, err)
	case repo.IsLockTimeout(err):
		return NextAction{}, newError(KindLockWait, op, err)
	default:
		span.SetStatus(codes.Error, err.Error())
		return NextAction{}, newError(KindPersistence, op, err)
	}
}

// Complete stores resp on the placeholder and commits the transaction, making
// the response and every side effect written through itx durable together.
// On failure the transaction is rolled back and nothing persists.
func (g *IdempotencyGuard) Complete(ctx context.Context, itx *IdempotentTx, resp domain.SavedResponse) (*domain.SavedResponse, error) {
	const op = "IdempotencyGuard.Complete"
	if itx == nil || itx.tx.Done() {
		return nil, newError(KindPersistence, op, errors.New("transaction already finished"))
	}
	if err := repo.SaveResponse(ctx, itx.tx.DB, itx.userID, itx.key, resp); err != nil {
		_ = itx.tx.Rollback()
		return nil, newError(KindPersistence, op, err)
	}
	if err := itx.tx.Commit(); err != nil {
		return nil, newError(KindPersistence, op, err)
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	if resp.Headers == nil {
		resp.Headers = domain.HeaderPairs{}
	}
	return &resp, nil
}

// Abort rolls back the transaction and frees the key. Calling it after
// Complete is a no-op.
func (g *IdempotencyGuard) Abort(itx *IdempotentTx) error {
	if itx == nil {
		return nil
	}
	return itx.tx.Rollback()
}
