package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/flowscope/pkg/models"
)

// eventQuerier is the subset of services.EventService the adapter needs.
type eventQuerier interface {
	ListSince(ctx context.Context, workflowID string, afterID int64, limit int) ([]*models.StoredEvent, error)
}

// EventServiceAdapter wraps services.EventService to implement CatchupQuerier.
type EventServiceAdapter struct {
	eventService eventQuerier
}

// NewEventServiceAdapter creates a CatchupQuerier from an EventService.
func NewEventServiceAdapter(es eventQuerier) *EventServiceAdapter {
	return &EventServiceAdapter{eventService: es}
}

// GetCatchupEvents returns stored events of a workflow channel after sinceID
// in the same shape they were announced with. Channels without persisted
// history yield nothing.
func (a *EventServiceAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	workflowID, ok := WorkflowIDFromChannel(channel)
	if !ok {
		return nil, nil
	}
	events, err := a.eventService.ListSince(ctx, workflowID, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, 0, len(events))
	for _, evt := range events {
		payloadJSON, err := json.Marshal(NewExecutionEventPayload(evt.WorkflowID, evt.RunID, evt.Envelope(), evt.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catchup event %d: %w", evt.ID, err)
		}
		var payload map[string]any
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode catchup event %d: %w", evt.ID, err)
		}
		result = append(result, CatchupEvent{ID: evt.ID, Payload: payload})
	}
	return result, nil
}
