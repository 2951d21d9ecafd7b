package syncer

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/signup-sync/pkg/enums"
	"github.com/angelmondragon/signup-sync/pkg/redis"
)

const (
	defaultLockTTL = 5 * time.Minute
	// advisoryLockClass is the first key of the two-key advisory lock so
	// sync locks never collide with other users of pg_advisory_lock.
	advisoryLockClass = 7140
)

// Guard is the in-process try-lock keyed by source type.
type Guard struct {
	mu      sync.Mutex
	running map[enums.SourceType]struct{}
}

func NewGuard() *Guard {
	return &Guard{running: map[enums.SourceType]struct{}{}}
}

// TryLock claims st, returning false when a sync for it is already running.
func (g *Guard) TryLock(st enums.SourceType) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[st]; busy {
		return nil, false
	}
	g.running[st] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, st)
			g.mu.Unlock()
		})
	}, true
}

// Lock serializes syncs of one source across instances.
type Lock interface {
	Acquire(ctx context.Context, st enums.SourceType) (release func(context.Context) error, ok bool, err error)
}

// RedisLock implements Lock with SET NX PX and an owner token.
type RedisLock struct {
	client redis.Locker
	ttl    time.Duration
}

func NewRedisLock(client redis.Locker, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for sync lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, st enums.SourceType) (func(context.Context) error, bool, error) {
	key := l.client.SyncLockKey(string(st))
	owner := uuid.NewString()
	ok, err := l.client.AcquireLock(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		// the lock may have expired and been taken by another owner; that is not an error
		if _, err := l.client.ReleaseLock(ctx, key, owner); err != nil {
			return fmt.Errorf("release sync lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}

type connPool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// PostgresLock implements Lock with a session advisory lock on
// (advisoryLockClass, hashtext(source_type)). The session is pinned to one
// pooled connection for the run, so a crashed process drops its locks with
// its connection.
type PostgresLock struct {
	pool connPool
}

func NewPostgresLock(pool connPool) (*PostgresLock, error) {
	if pool == nil {
		return nil, errors.New("sql pool required for advisory sync lock")
	}
	return &PostgresLock{pool: pool}, nil
}

func (l *PostgresLock) Acquire(ctx context.Context, st enums.SourceType) (func(context.Context) error, bool, error) {
	conn, err := l.pool.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("reserve lock connection: %w", err)
	}
	var locked bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, hashtext($2))", advisoryLockClass, string(st)).Scan(&locked)
	if err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		var unlocked bool
		err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1, hashtext($2))", advisoryLockClass, string(st)).Scan(&unlocked)
		if err != nil {
			// drop the session rather than return a lock holder to the pool
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			_ = conn.Close()
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return conn.Close()
	}
	return release, true, nil
}
