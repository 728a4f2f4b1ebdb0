// Package outbox implements the transactional outbox for queue events. A
// visit transition commits its state change and its notification rows in one
// transaction; the dispatcher drains pending rows and publishes them to the
// websocket hub. Publish failures never affect committed state.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/websocket"
)

// Entry is one pending channel notification. Entries for the same visit and
// channel are drained in id order, which preserves commit order.
type Entry struct {
	ID           int64
	VisitID      uuid.UUID
	PatientID    uuid.UUID
	Channel      string
	Action       string
	CurrentStage string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	RetryCount   int
	LastError    *string
}

// Event converts the entry into the wire message delivered to subscribers.
func (e *Entry) Event() websocket.Event {
	return websocket.Event{
		Channel:      e.Channel,
		VisitID:      e.VisitID.String(),
		PatientID:    e.PatientID.String(),
		CurrentStage: e.CurrentStage,
		Action:       e.Action,
		Timestamp:    e.CreatedAt,
		Seq:          e.ID,
	}
}

// Publisher delivers a single event. Satisfied by *websocket.Hub.
type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store writes outbox entries. Writes pick up an ambient transaction from
// the context so they commit atomically with the state change.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// Enqueue inserts pending entries. Must be called inside the transaction
// that commits the corresponding state change.
func (s *Store) Enqueue(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		err := s.conn(ctx).QueryRow(ctx, `
			INSERT INTO outbox (visit_id, patient_id, channel, action, current_stage)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id, created_at`,
			e.VisitID, e.PatientID, e.Channel, e.Action, e.CurrentStage,
		).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("enqueue outbox entry: %w", err)
		}
	}
	return nil
}

// Config holds dispatcher tuning.
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxRetries     int
	PublishTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      100,
		PollInterval:   250 * time.Millisecond,
		MaxRetries:     5,
		PublishTimeout: 2 * time.Second,
	}
}

// Dispatcher polls the outbox and publishes pending entries.
type Dispatcher struct {
	pool      *pgxpool.Pool
	config    Config
	publisher Publisher
	logger    zerolog.Logger
}

func NewDispatcher(pool *pgxpool.Pool, publisher Publisher, cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Dispatcher{pool: pool, config: cfg, publisher: publisher, logger: logger}
}

// advisoryLockID guards against concurrent dispatchers double-draining when
// several instances share the database.
const advisoryLockID int64 = 726901442

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().
		Int("batch_size", d.config.BatchSize).
		Dur("poll_interval", d.config.PollInterval).
		Msg("outbox dispatcher started")

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.logger.Error().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

// DrainOnce processes at most one batch and returns the number of entries
// successfully published. Advisory locks are session-scoped, so the lock,
// the fetch and the unlock must all run on one connection held for the
// whole drain; competing dispatchers are serialized by the lock alone.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockID).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return 0, nil // another dispatcher holds the lock
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID)

	entries, err := d.fetchPending(ctx, conn)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, entry := range entries {
		if err := d.process(ctx, conn, entry); err != nil {
			d.logger.Error().
				Int64("id", entry.ID).
				Str("channel", entry.Channel).
				Err(err).
				Msg("outbox entry delivery failed")
			continue
		}
		published++
	}
	return published, nil
}

func (d *Dispatcher) fetchPending(ctx context.Context, q querier) ([]*Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, visit_id, patient_id, channel, action, current_stage,
		       created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2`,
		d.config.MaxRetries, d.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.ID, &e.VisitID, &e.PatientID, &e.Channel, &e.Action,
			&e.CurrentStage, &e.CreatedAt, &e.RetryCount, &e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *Dispatcher) process(ctx context.Context, q querier, entry *Entry) error {
	pubCtx, cancel := context.WithTimeout(ctx, d.config.PublishTimeout)
	err := d.publisher.Publish(pubCtx, entry.Event())
	cancel()

	if err != nil {
		errStr := err.Error()
		if _, updateErr := q.Exec(ctx, `
			UPDATE outbox SET retry_count = retry_count + 1, last_error = $1
			WHERE id = $2`, errStr, entry.ID); updateErr != nil {
			d.logger.Error().Err(updateErr).Msg("failed to record outbox retry")
		}
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := q.Exec(ctx,
		`UPDATE outbox SET processed_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// CleanupProcessed removes processed entries older than the given age.
func (d *Dispatcher) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := d.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return result.RowsAffected(), nil
}
