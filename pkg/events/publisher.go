package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// notifyLimit keeps NOTIFY payloads below PostgreSQL's 8000-byte limit.
const notifyLimit = 7900

// PendingEvent is a validated execution event waiting to be stored.
type PendingEvent struct {
	Envelope timeline.Envelope
	RunID    string
}

// EventPublisher publishes events for WebSocket delivery.
// Execution events are stored in the execution_events table then broadcast
// via NOTIFY. Reset notices are broadcast via NOTIFY only.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishExecutionEvents persists a batch of execution events and announces
// each on the workflow channel, all in one transaction. A single activity
// notice carrying the last id goes to GlobalWorkflowsChannel.
// Returns the assigned ids in input order.
func (p *EventPublisher) PublishExecutionEvents(ctx context.Context, workflowID string, batch []PendingEvent) ([]int64, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	channel := WorkflowChannel(workflowID)
	ids := make([]int64, 0, len(batch))
	for _, pe := range batch {
		id, err := p.persistAndNotify(ctx, tx, workflowID, channel, pe)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	activity, err := json.Marshal(WorkflowActivityPayload{
		BasePayload: newBase(EventTypeWorkflowActivity, workflowID, time.Now()),
		DBEventID:   ids[len(ids)-1],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal WorkflowActivityPayload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", GlobalWorkflowsChannel, string(activity)); err != nil {
		return nil, fmt.Errorf("pg_notify failed: %w", err)
	}

	// INSERTs are persisted and every NOTIFY fires atomically on COMMIT.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return ids, nil
}

// PublishExecutionEvent persists and broadcasts a single execution event.
func (p *EventPublisher) PublishExecutionEvent(ctx context.Context, workflowID string, pe PendingEvent) (int64, error) {
	ids, err := p.PublishExecutionEvents(ctx, workflowID, []PendingEvent{pe})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// PublishWorkflowReset broadcasts a workflow.reset notice to the workflow
// channel and to GlobalWorkflowsChannel. Both publishes are best-effort;
// the first error is returned.
func (p *EventPublisher) PublishWorkflowReset(ctx context.Context, workflowID string, deleted int) error {
	payloadJSON, err := json.Marshal(WorkflowResetPayload{
		BasePayload: newBase(EventTypeWorkflowReset, workflowID, time.Now()),
		Deleted:     deleted,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal WorkflowResetPayload: %w", err)
	}

	var firstErr error
	for _, channel := range []string{WorkflowChannel(workflowID), GlobalWorkflowsChannel} {
		if err := p.notifyOnly(ctx, channel, payloadJSON); err != nil {
			slog.Warn("Failed to publish workflow reset",
				"workflow_id", workflowID, "channel", channel, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// persistAndNotify inserts one event and queues its NOTIFY on tx
// (pg_notify is transactional and held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, tx *sql.Tx, workflowID, channel string, pe PendingEvent) (int64, error) {
	data := pe.Envelope.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	var runID sql.NullString
	if pe.RunID != "" {
		runID = sql.NullString{String: pe.RunID, Valid: true}
	}

	var (
		eventID   int64
		createdAt time.Time
	)
	err := tx.QueryRowContext(ctx,
		`INSERT INTO execution_events (workflow_id, event_type, run_id, data, emitted_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		workflowID, pe.Envelope.Type, runID, string(data), pe.Envelope.Timestamp,
	).Scan(&eventID, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to persist event: %w", err)
	}

	env := pe.Envelope
	env.Data = data
	payloadJSON, err := json.Marshal(NewExecutionEventPayload(workflowID, pe.RunID, env, createdAt))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ExecutionEventPayload: %w", err)
	}

	// Build NOTIFY payload with db_event_id for catchup tracking.
	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return 0, fmt.Errorf("pg_notify failed: %w", err)
	}
	return eventID, nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// the NOTIFY limit, otherwise returns a minimal truncation envelope with
// only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= notifyLimit {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload keeps the fields a client needs to fetch the
// complete event over REST.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type       string `json:"type"`
		WorkflowID string `json:"workflow_id"`
		EventType  string `json:"event_type"`
		RunID      string `json:"run_id"`
		DBEventID  *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":        routing.Type,
		"workflow_id": routing.WorkflowID,
		"truncated":   true,
	}
	if routing.EventType != "" {
		truncated["event_type"] = routing.EventType
	}
	if routing.RunID != "" {
		truncated["run_id"] = routing.RunID
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
