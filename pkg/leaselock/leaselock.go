// Package leaselock implements expiring locks on the app_locks table so that
// several replicas can share one database.
//
// A lease is renewed in the background until it is released. RunTx also
// fences the work done under the lease: the transaction only commits if the
// lease row still names this holder, so a replica whose lease expired
// mid-write cannot overwrite whatever the next holder committed.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrLost     = errors.New("lease lock lost")
	ErrEmptyKey = errors.New("lease lock key is empty")
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultPollInterval = 250 * time.Millisecond
)

// Conn is satisfied by *pgxpool.Pool and *pgx.Conn.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Locks struct {
	db Conn
}

func New(db Conn) *Locks {
	return &Locks{db: db}
}

type Options struct {
	// TTL is how long the lease survives without a renewal. Renewals run
	// every TTL/3.
	TTL time.Duration

	PollInterval time.Duration
	PollJitter   time.Duration
}

func (o Options) normalized() Options {
	if o.TTL < 3*time.Millisecond {
		o.TTL = DefaultTTL
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	o.PollJitter = max(o.PollJitter, 0)
	return o
}

// Lease is a held lock.
type Lease struct {
	key   string
	token string
	ttl   time.Duration
	locks *Locks

	ctx    context.Context
	cancel context.CancelCauseFunc

	once sync.Once
	done chan struct{}
}

func (l *Lease) Key() string { return l.key }

// Context is cancelled when the lease is released, or with ErrLost as its
// cause when a renewal finds the lock taken over.
func (l *Lease) Context() context.Context { return l.ctx }

// Acquire blocks until key is free or ctx ends.
func (l *Locks) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	opts = opts.normalized()

	token, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	for waited := false; ; waited = true {
		var got string
		err := l.db.QueryRow(ctx, tryAcquireSQL, key, token, opts.TTL.Milliseconds()).Scan(&got)
		if err == nil {
			break
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("acquiring %s: %w", key, err)
		}
		if !waited {
			logger.Debug("[Lease] Waiting for lock", "key", key)
		}
		if err := sleep(ctx, opts.PollInterval, opts.PollJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		key:    key,
		token:  token,
		ttl:    opts.TTL,
		locks:  l,
		ctx:    leaseCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.keepAlive(opts.TTL / 3)
	return lease, nil
}

// Release stops renewing and deletes the lock row if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.done)
		l.cancel(context.Canceled)
	})
	_, err := l.locks.db.Exec(ctx, releaseSQL, l.key, l.token)
	return err
}

// RunTx holds key while fn runs inside one transaction. Other sessions keep
// seeing the state from before fn until the commit.
func (l *Locks) RunTx(ctx context.Context, key string, opts Options, fn func(ctx context.Context, tx pgx.Tx) error) error {
	lease, err := l.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()

	err = pgx.BeginFunc(lease.ctx, l.db, func(tx pgx.Tx) error {
		if err := fn(lease.ctx, tx); err != nil {
			return err
		}
		return lease.fence(lease.ctx, tx)
	})
	if err != nil && errors.Is(context.Cause(lease.ctx), ErrLost) {
		return fmt.Errorf("%w: %s: %v", ErrLost, key, err)
	}
	return err
}

// fence locks the lease row inside tx. A competing acquire blocks on that row
// until tx ends, so everything tx wrote happened under this lease.
func (l *Lease) fence(ctx context.Context, tx pgx.Tx) error {
	var got string
	err := tx.QueryRow(ctx, fenceSQL, l.key, l.token).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLost
	}
	return err
}

// keepAlive renews every interval. Failed renewals are retried until the TTL
// runs out since the last success.
func (l *Lease) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	renewed := time.Now()
	for {
		select {
		case <-l.done:
			return
		case <-l.ctx.Done():
			return
		case <-t.C:
		}

		err := l.renew(every)
		switch {
		case err == nil:
			renewed = time.Now()
		case errors.Is(err, pgx.ErrNoRows):
			l.cancel(ErrLost)
			return
		case time.Since(renewed) >= l.ttl:
			l.cancel(fmt.Errorf("%w: %v", ErrLost, err))
			return
		default:
			logger.Warn("[Lease] Renewal failed", "key", l.key, "err", err)
		}
	}
}

func (l *Lease) renew(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(l.ctx, timeout)
	defer cancel()
	var got string
	return l.locks.db.QueryRow(ctx, renewSQL, l.key, l.token, l.ttl.Milliseconds()).Scan(&got)
}

func sleep(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += rand.N(jitter + 1)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
RETURNING lock_key
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key
`

const fenceSQL = `
SELECT lock_key FROM app_locks
WHERE lock_key = $1 AND locked_by = $2 AND expires_at > now()
FOR UPDATE
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2
`
