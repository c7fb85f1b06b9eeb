package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Tx is a transaction pinned to one pooled connection. The connection is
// returned to the pool by Commit or Rollback, whichever runs first.
type Tx struct {
	DB   *gorm.DB
	conn *sql.Conn
	done bool
}

// BeginTx waits at most acquireTimeout for a pooled connection and starts a
// transaction on it. Running out of time yields ErrPoolTimeout. The
// transaction itself runs under ctx.
func BeginTx(ctx context.Context, db *gorm.DB, acquireTimeout time.Duration) (*Tx, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := ctx, context.CancelFunc(func() {})
	if acquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, acquireTimeout)
	}
	conn, err := sqlDB.Conn(acquireCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrPoolTimeout, acquireTimeout)
		}
		return nil, err
	}

	session := db.WithContext(ctx)
	session.Statement.ConnPool = conn
	tx := session.Begin()
	if tx.Error != nil {
		_ = conn.Close()
		return nil, tx.Error
	}
	return &Tx{DB: tx, conn: conn}, nil
}

// Dialect returns the dialector name, "postgres" or "sqlite".
func (t *Tx) Dialect() string { return t.DB.Dialector.Name() }

// SetLockTimeout bounds how long statements in this transaction wait on row
// locks. Only Postgres supports a per-transaction bound; SQLite relies on
// its busy_timeout.
func (t *Tx) SetLockTimeout(d time.Duration) error {
	if d <= 0 || t.Dialect() != "postgres" {
		return nil
	}
	return t.DB.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())).Error
}

// Commit commits and releases the connection.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	err := t.DB.Commit().Error
	t.release()
	return err
}

// Rollback rolls back and releases the connection. It is a no-op after
// Commit, so it can be deferred unconditionally.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	err := t.DB.Rollback().Error
	t.release()
	return err
}

// Done reports whether the transaction has been committed or rolled back.
func (t *Tx) Done() bool { return t.done }

func (t *Tx) release() {
	t.done = true
	_ = t.conn.Close()
}
