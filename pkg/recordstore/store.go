// Package recordstore persists accepted messages to sqlite. Records are
// queued by RecordMessage and written in batches by a single goroutine, so
// the proxy's pipeline never waits on the disk.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
	"github.com/Loping151/BotShepherd-sub000/pkg/recordstore/migrations"
	bsshare "github.com/Loping151/BotShepherd-sub000/share"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	defaultDBPath        = "./data/messages.db"
	defaultBusyTimeoutMS = 5000
	defaultQueueSize     = 4096
	defaultBatchSize     = 128
	defaultRetentionDays = 30
	defaultCleanupPeriod = time.Hour
)

// Options configures Open
type Options struct {
	Path          string
	BusyTimeoutMS int

	// QueueSize bounds the records waiting to be written; when full, new
	// records are dropped
	QueueSize int

	// RetentionDays is how long records are kept. Zero means the default,
	// negative keeps records forever.
	RetentionDays int

	// CleanupPeriod is how often expired records are deleted
	CleanupPeriod time.Duration
}

// Store is a bsshare.Persistence backed by sqlite
type Store struct {
	bsshare.ShutdownHelper
	sql       *sql.DB
	queue     chan bsshare.MessageRecord
	batchSize int
	retention time.Duration
	cleanup   time.Duration

	// flushReq lets Flush wait for everything queued before it was called
	flushReq chan chan struct{}

	written atomic.Int64
	dropped atomic.Int64
}

// ErrClosed is returned by Flush once the store has shut down
var ErrClosed = errors.New("record store closed")

var gooseSetupOnce sync.Once

// Open opens (creating if necessary) the database at opts.Path, brings its
// schema up to date and starts the background writer
func Open(ctx context.Context, logger bsshare.Logger, opts Options) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultDBPath
	}
	busyTimeout := opts.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeoutMS
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	retentionDays := opts.RetentionDays
	if retentionDays == 0 {
		retentionDays = defaultRetentionDays
	}
	cleanup := opts.CleanupPeriod
	if cleanup <= 0 {
		cleanup = defaultCleanupPeriod
	}
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	cleanupOnErr := true
	defer func() {
		if cleanupOnErr {
			_ = db.Close()
		}
	}()

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db, busyTimeout); err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, err
	}

	s := &Store{
		sql:       db,
		queue:     make(chan bsshare.MessageRecord, queueSize),
		batchSize: defaultBatchSize,
		cleanup:   cleanup,
		flushReq:  make(chan chan struct{}),
	}
	if retentionDays > 0 {
		s.retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	s.InitShutdownHelper(logger.Fork("recordstore"), s)
	err = s.DoOnceActivate(
		func() error {
			s.ShutdownWG().Add(1)
			go s.writeLoop()
			return nil
		},
		true,
	)
	if err != nil {
		return nil, err
	}
	cleanupOnErr = false
	s.ILogf("Recording messages to %s", path)
	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, busyTimeoutMS int) error {
	statements := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %q: %w", stmt, err)
		}
	}
	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	gooseSetupOnce.Do(func() {
		goose.SetBaseFS(migrations.Files)
		goose.SetVerbose(false)
	})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func ensureParentDir(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == ":memory:" || strings.HasPrefix(trimmed, "file:") {
		return nil
	}
	parentDir := filepath.Dir(trimmed)
	if parentDir == "." || parentDir == "" {
		return nil
	}
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("create sqlite parent directory %q: %w", parentDir, err)
	}
	return nil
}

// RecordMessage implements bsshare.Persistence. It never blocks; records
// arriving while the queue is full, or after shutdown began, are dropped.
func (s *Store) RecordMessage(rec bsshare.MessageRecord) {
	if s.IsStartedShutdown() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- rec:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			s.WLogf("Record queue full, dropping messages (%d so far)", s.dropped.Load())
		}
	}
}

// Flush waits until every record queued before the call has been written,
// or ctx is done
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flushReq <- done:
	case <-s.ShutdownDoneChan():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns the number of records committed so far
func (s *Store) Written() int64 {
	return s.written.Load()
}

// Dropped returns the number of records discarded without being written
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// HandleOnceShutdown is a no-op; the writer drains the queue and closes the
// database when it sees shutdown start
func (s *Store) HandleOnceShutdown(completionErr error) error {
	return completionErr
}

func (s *Store) writeLoop() {
	defer s.ShutdownWG().Done()
	ticker := time.NewTicker(s.cleanup)
	defer ticker.Stop()
	batch := make([]bsshare.MessageRecord, 0, s.batchSize)

	// fill takes whatever is already queued, up to a batch
	fill := func() {
		for len(batch) < s.batchSize {
			select {
			case rec := <-s.queue:
				batch = append(batch, rec)
			default:
				return
			}
		}
	}
	commit := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insert(context.Background(), batch); err != nil {
			s.ELogf("Writing %d records failed: %s", len(batch), err)
			s.dropped.Add(int64(len(batch)))
		} else {
			s.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}
	drain := func() {
		for {
			fill()
			if len(batch) == 0 {
				return
			}
			commit()
		}
	}

	s.expire(context.Background())
	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			fill()
			commit()
		case done := <-s.flushReq:
			drain()
			close(done)
		case <-ticker.C:
			s.expire(context.Background())
		case <-s.ShutdownStartedChan():
			drain()
			if err := s.sql.Close(); err != nil {
				s.WLogf("Closing database: %s", err)
			}
			s.DLogf("Writer done, %d written, %d dropped", s.written.Load(), s.dropped.Load())
			return
		}
	}
}

func (s *Store) insert(ctx context.Context, batch []bsshare.MessageRecord) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages
		(direction, route_id, self_id, user_id, group_id, message_type, message_id, text, segments_json, time_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, rec := range batch {
		segments := string(rec.Segments)
		if segments == "" {
			segments = "[]"
		}
		ts := rec.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			rec.Direction.String(), rec.RouteID, int64(rec.SelfID), int64(rec.UserID), int64(rec.GroupID),
			rec.MessageType, rec.MessageID, rec.Text, segments, ts.UnixMilli())
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) expire(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	res, err := s.sql.ExecContext(ctx, "DELETE FROM messages WHERE time_unix_ms < ?", cutoff)
	if err != nil {
		s.WLogf("Expiring old records failed: %s", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.ILogf("Expired %d records older than %s", n, s.retention)
	}
}

// Query selects stored records. Zero-valued fields do not constrain.
type Query struct {
	SelfID    onebot.ID
	GroupID   onebot.ID
	UserID    onebot.ID
	Direction bsshare.Direction
	Since     time.Time
	Limit     int
}

func (q Query) where() (string, []any) {
	var clauses []string
	var args []any
	if q.SelfID.IsSet() {
		clauses = append(clauses, "self_id = ?")
		args = append(args, int64(q.SelfID))
	}
	if q.GroupID.IsSet() {
		clauses = append(clauses, "group_id = ?")
		args = append(args, int64(q.GroupID))
	}
	if q.UserID.IsSet() {
		clauses = append(clauses, "user_id = ?")
		args = append(args, int64(q.UserID))
	}
	if q.Direction != 0 {
		clauses = append(clauses, "direction = ?")
		args = append(args, q.Direction.String())
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "time_unix_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Count returns the number of stored records matching q
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	where, args := q.where()
	var n int64
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Recent returns the newest records matching q, newest first
func (s *Store) Recent(ctx context.Context, q Query) ([]bsshare.MessageRecord, error) {
	where, args := q.where()
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	rows, err := s.sql.QueryContext(ctx, `SELECT direction, route_id, self_id, user_id, group_id, message_type,
		message_id, text, segments_json, time_unix_ms FROM messages`+where+` ORDER BY time_unix_ms DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	var out []bsshare.MessageRecord
	for rows.Next() {
		var (
			rec                     bsshare.MessageRecord
			direction, segments     string
			selfID, userID, groupID int64
			ms                      int64
		)
		if err := rows.Scan(&direction, &rec.RouteID, &selfID, &userID, &groupID, &rec.MessageType,
			&rec.MessageID, &rec.Text, &segments, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if direction == bsshare.DirectionSend.String() {
			rec.Direction = bsshare.DirectionSend
		} else {
			rec.Direction = bsshare.DirectionRecv
		}
		rec.SelfID, rec.UserID, rec.GroupID = onebot.ID(selfID), onebot.ID(userID), onebot.ID(groupID)
		rec.Segments = []byte(segments)
		rec.Time = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountMessages counts an account's records in one direction since a time
func (s *Store) CountMessages(ctx context.Context, selfID onebot.ID, direction bsshare.Direction, since time.Time) (int64, error) {
	return s.Count(ctx, Query{SelfID: selfID, Direction: direction, Since: since})
}
