// Package relay publishes committed audit outbox rows to Kafka.
//
// The outbox table is written inside engine transactions; this relay is the
// only component that marks rows published. If publishing fails the rows
// stay unpublished and are retried on the next tick, so the Kafka stream is
// at-least-once and the database remains the write-side source of truth.
package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 256
)

// Producer is the Kafka surface the relay needs. *kgo.Client satisfies it.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay moves unpublished outbox rows to a Kafka topic.
type Relay struct {
	db        *sql.DB
	producer  Producer
	topic     string
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize overrides how many rows are published per tick.
func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

// New creates a Relay publishing to topic.
func New(db *sql.DB, producer Producer, topic string, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		producer:  producer,
		topic:     topic,
		logger:    logger,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "audit outbox relay tick failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "audit events published", "count", n)
			}
		}
	}
}

// RelayOnce publishes one batch of unpublished rows and returns how many it
// moved. Exported so tests and operational tooling can drive the relay
// without the ticker.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		r.batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var (
		ids     []uuid.UUID
		records []*kgo.Record
	)
	for rows.Next() {
		var (
			rowID       uuid.UUID
			workspaceID uuid.UUID
			payload     []byte
		)
		if err := rows.Scan(&rowID, &workspaceID, &payload); err != nil {
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		ids = append(ids, rowID)
		records = append(records, &kgo.Record{
			Topic: r.topic,
			// Key by workspace so one workspace's events stay ordered
			// within a partition.
			Key:   []byte(workspaceID.String()),
			Value: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce audit batch: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE audit_outbox SET published_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids),
	); err != nil {
		// The batch reached Kafka but is still marked unpublished; it will
		// be produced again next tick. At-least-once, consumers dedupe on
		// the payload event id.
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	return len(records), nil
}
