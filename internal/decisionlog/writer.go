// Package decisionlog is the async, buffered, best-effort audit trail of
// pipeline outcomes (spec.md §4.6 step 11), adapted from the teacher's
// internal/audit.Writer: same buffered-channel/ticker/batch shape, with the
// per-tenant schema multiplexing dropped (one operator, one schema) and the
// entry fields narrowed to what a gateway decision needs.
package decisionlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nightgate/resourcegate/internal/telemetry"
)

// Decision is the outcome of one pipeline run.
type Decision string

const (
	Allowed Decision = "ALLOWED"
	Denied  Decision = "DENIED"
)

// Entry is one decision-log row (spec.md §4.6 step 11, §3 decision_log).
type Entry struct {
	AppID      uuid.UUID
	ResourceID string
	Action     string
	Decision   Decision
	Reason     string
	LatencyMS  int64
	RequestID  string
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer enqueues Entry values on a buffered channel and flushes them to
// Postgres from a single background goroutine. Log never blocks the
// request path: a full buffer drops the entry with a logged warning.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background flush loop. Call Close to drain and stop it.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the background loop to
// flush everything already buffered.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues entry for async writing.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		telemetry.DecisionLogDroppedTotal.Inc()
		w.logger.Warn("decision log buffer full, dropping entry",
			"resource_id", entry.ResourceID, "decision", entry.Decision)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		var appID *uuid.UUID
		if e.AppID != uuid.Nil {
			appID = &e.AppID
		}
		_, err := w.pool.Exec(ctx,
			`INSERT INTO decision_log (app_id, resource_id, action, decision, reason, latency_ms, request_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			appID, e.ResourceID, e.Action, string(e.Decision), e.Reason, e.LatencyMS, e.RequestID,
		)
		if err != nil {
			w.logger.Error("writing decision log entry", "error", err,
				"resource_id", e.ResourceID, "decision", e.Decision)
		}
	}
}
