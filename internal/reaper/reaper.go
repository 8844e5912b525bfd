package reaper

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Snapshot is an aggregate view of pg_stat_activity for the current
// database, excluding our own backend.
type Snapshot struct {
	Total  int
	Active int
	Idle   int
}

// querier is the slice of pgx.Conn the reaper needs; tests substitute fakes.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const snapshotSQL = `
	SELECT count(*),
	       count(*) FILTER (WHERE state = 'active'),
	       count(*) FILTER (WHERE state = 'idle')
	FROM pg_stat_activity
	WHERE datname = current_database()
	  AND pid <> pg_backend_pid()`

// Idle connections first (held-open pool sockets, least disruptive), then
// active ones that are not the server's own workers.
const terminateIdleSQL = `
	SELECT pg_terminate_backend(pid)
	FROM pg_stat_activity
	WHERE datname = current_database()
	  AND pid <> pg_backend_pid()
	  AND state = 'idle'`

const terminateActiveSQL = `
	SELECT pg_terminate_backend(pid)
	FROM pg_stat_activity
	WHERE datname = current_database()
	  AND pid <> pg_backend_pid()
	  AND state = 'active'
	  AND application_name NOT ILIKE 'postgres%'`

// Reaper terminates lingering database connections between benchmark runs so
// one implementation's leaked pool doesn't skew the next.
type Reaper struct {
	ConnString   string
	PollInterval time.Duration
	RetryDelay   time.Duration
}

func New(connString string) *Reaper {
	return &Reaper{
		ConnString:   connString,
		PollInterval: time.Second,
		RetryDelay:   3 * time.Second,
	}
}

// Cleanup connects directly (unpooled) and reaps until at most one foreign
// connection remains or the timeout expires. Best-effort: failure is
// reported, never fatal. A saturated server ("too many clients") gets one
// delayed retry since even our diagnostic connection may be refused.
func (r *Reaper) Cleanup(ctx context.Context, timeout time.Duration) bool {
	var ok bool
	err := retry.Do(
		func() error {
			var err error
			ok, err = r.cleanupOnce(ctx, timeout)
			return err
		},
		retry.Attempts(2),
		retry.Delay(r.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTooManyClients),
	)
	if err != nil {
		log.WithError(err).Warn("Connection cleanup failed")
		return false
	}
	return ok
}

func (r *Reaper) cleanupOnce(ctx context.Context, timeout time.Duration) (bool, error) {
	conn, err := pgx.Connect(ctx, r.ConnString)
	if err != nil {
		return false, errors.Wrap(err, "reaper could not connect")
	}
	defer conn.Close(ctx)

	return r.reap(ctx, conn, timeout)
}

func (r *Reaper) reap(ctx context.Context, q querier, timeout time.Duration) (bool, error) {
	snap, err := takeSnapshot(ctx, q)
	if err != nil {
		return false, err
	}
	if snap.Total <= 1 {
		return true, nil
	}

	log.Infof("Reaping %d leftover connections (%d active, %d idle)", snap.Total, snap.Active, snap.Idle)
	if _, err := q.Exec(ctx, terminateIdleSQL); err != nil {
		return false, errors.Wrap(err, "terminating idle connections")
	}
	if snap.Active > 0 {
		if _, err := q.Exec(ctx, terminateActiveSQL); err != nil {
			return false, errors.Wrap(err, "terminating active connections")
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.PollInterval):
		}

		snap, err = takeSnapshot(ctx, q)
		if err != nil {
			return false, err
		}
		if snap.Total <= 1 {
			return true, nil
		}
	}

	log.Warnf("Connection count still at %d after %s", snap.Total, timeout)
	return false, nil
}

func takeSnapshot(ctx context.Context, q querier) (Snapshot, error) {
	var s Snapshot
	err := q.QueryRow(ctx, snapshotSQL).Scan(&s.Total, &s.Active, &s.Idle)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "querying pg_stat_activity")
	}
	return s, nil
}

func isTooManyClients(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.TooManyConnections
	}
	return false
}
