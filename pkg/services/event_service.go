package services

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// EventsTable is the table execution events are stored in.
const EventsTable = "execution_events"

// maxWorkflowIDLength matches the workflow_id column width.
const maxWorkflowIDLength = 255

var eventColumns = []string{"id", "workflow_id", "event_type", "run_id", "data", "emitted_at", "created_at"}

// EventService stores and queries execution event history.
// Live appends that must reach WebSocket clients go through
// events.EventPublisher, which writes the same table inside its NOTIFY
// transaction.
type EventService struct {
	drv *entsql.Driver
}

// NewEventService creates a new EventService
func NewEventService(drv *entsql.Driver) *EventService {
	return &EventService{drv: drv}
}

// ValidateEnvelope checks a workflow id and envelope at the ingest boundary
// and returns the decoded event. Decode failures wrap ErrInvalidEvent.
func ValidateEnvelope(workflowID string, env timeline.Envelope) (timeline.Event, error) {
	if err := ValidateWorkflowID(workflowID); err != nil {
		return timeline.Event{}, err
	}
	ev, err := timeline.Decode(0, env)
	if err != nil {
		return timeline.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ev, nil
}

// ValidateWorkflowID rejects empty, oversized and channel-unsafe ids.
func ValidateWorkflowID(workflowID string) error {
	switch {
	case strings.TrimSpace(workflowID) == "":
		return NewValidationError("workflow_id", "required")
	case len(workflowID) > maxWorkflowIDLength:
		return NewValidationError("workflow_id", fmt.Sprintf("longer than %d characters", maxWorkflowIDLength))
	case strings.ContainsAny(workflowID, " \t\r\n"):
		return NewValidationError("workflow_id", "must not contain whitespace")
	}
	return nil
}

// CreateEvent persists an event without notifying listeners. Used for bulk
// imports; live ingestion goes through the publisher.
func (s *EventService) CreateEvent(ctx context.Context, req models.CreateEventRequest) (*models.StoredEvent, error) {
	ev, err := ValidateEnvelope(req.WorkflowID, req.Envelope)
	if err != nil {
		return nil, err
	}

	data := req.Envelope.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	query, args := entsql.Dialect(dialect.Postgres).
		Insert(EventsTable).
		Columns("workflow_id", "event_type", "run_id", "data", "emitted_at").
		Values(req.WorkflowID, req.Envelope.Type, nullString(ev.Route.RunID), string(data), req.Envelope.Timestamp).
		Returning("id", "created_at").
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	defer rows.Close()

	stored := &models.StoredEvent{
		WorkflowID: req.WorkflowID,
		Type:       req.Envelope.Type,
		RunID:      ev.Route.RunID,
		Data:       data,
		Timestamp:  req.Envelope.Timestamp,
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to create event: %w", err)
		}
		return nil, fmt.Errorf("failed to create event: no id returned")
	}
	if err := rows.Scan(&stored.ID, &stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan created event: %w", err)
	}
	return stored, nil
}

// ListSince returns up to limit events of a workflow with id > afterID in
// id order. A non-positive limit means no limit.
func (s *EventService) ListSince(ctx context.Context, workflowID string, afterID int64, limit int) ([]*models.StoredEvent, error) {
	sel := entsql.Dialect(dialect.Postgres).
		Select(eventColumns...).
		From(entsql.Table(EventsTable)).
		Where(entsql.And(
			entsql.EQ("workflow_id", workflowID),
			entsql.GT("id", afterID),
		)).
		OrderBy("id")
	if limit > 0 {
		sel.Limit(limit)
	}
	events, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// History returns the first limit events of a workflow.
func (s *EventService) History(ctx context.Context, workflowID string, limit int) ([]*models.StoredEvent, error) {
	return s.ListSince(ctx, workflowID, 0, limit)
}

// Search returns events of a workflow whose data matches a full-text query.
func (s *EventService) Search(ctx context.Context, workflowID, text string, limit int) ([]*models.StoredEvent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewValidationError("q", "required")
	}
	sel := entsql.Dialect(dialect.Postgres).
		Select(eventColumns...).
		From(entsql.Table(EventsTable)).
		Where(entsql.And(
			entsql.EQ("workflow_id", workflowID),
			entsql.P(func(b *entsql.Builder) {
				b.WriteString("to_tsvector('simple', data::text) @@ plainto_tsquery('simple', ").Arg(text).WriteString(")")
			}),
		)).
		OrderBy("id")
	if limit > 0 {
		sel.Limit(limit)
	}
	events, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return events, nil
}

// GetEvent returns a single event by id.
func (s *EventService) GetEvent(ctx context.Context, id int64) (*models.StoredEvent, error) {
	sel := entsql.Dialect(dialect.Postgres).
		Select(eventColumns...).
		From(entsql.Table(EventsTable)).
		Where(entsql.EQ("id", id))
	events, err := s.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

// LastEventID returns the highest stored id for a workflow, 0 when empty.
func (s *EventService) LastEventID(ctx context.Context, workflowID string) (int64, error) {
	query, args := entsql.Dialect(dialect.Postgres).
		Select("COALESCE(MAX(id), 0)").
		From(entsql.Table(EventsTable)).
		Where(entsql.EQ("workflow_id", workflowID)).
		Query()

	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return 0, fmt.Errorf("failed to get last event id: %w", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan last event id: %w", err)
		}
	}
	return id, rows.Err()
}

// DeleteWorkflow removes every stored event of a workflow. Returns the
// number of deleted rows.
func (s *EventService) DeleteWorkflow(ctx context.Context, workflowID string) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	query, args := entsql.Dialect(dialect.Postgres).
		Delete(EventsTable).
		Where(entsql.EQ("workflow_id", workflowID)).
		Query()
	count, err := s.exec(writeCtx, query, args)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workflow events: %w", err)
	}
	return count, nil
}

// CleanupExpired removes events older than ttl.
func (s *EventService) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	query, args := entsql.Dialect(dialect.Postgres).
		Delete(EventsTable).
		Where(entsql.LT("created_at", cutoff)).
		Query()
	count, err := s.exec(writeCtx, query, args)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired events: %w", err)
	}
	return count, nil
}

func (s *EventService) exec(ctx context.Context, query string, args []any) (int, error) {
	var res stdsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *EventService) query(ctx context.Context, sel *entsql.Selector) ([]*models.StoredEvent, error) {
	query, args := sel.Query()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.StoredEvent
	for rows.Next() {
		var (
			evt       models.StoredEvent
			runID     stdsql.NullString
			data      []byte
			emittedAt stdsql.NullTime
		)
		if err := rows.Scan(&evt.ID, &evt.WorkflowID, &evt.Type, &runID, &data, &emittedAt, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.RunID = runID.String
		evt.Data = data
		if emittedAt.Valid {
			at := emittedAt.Time
			evt.Timestamp = &at
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
