// Package events publishes domain events after state changes commit.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	BillStatusChanged     = "bill.status_changed"
	AnalysisCompleted     = "analysis.completed"
	StrategyStatusChanged = "strategy.status_changed"
	DocumentStatusChanged = "document.status_changed"
	AchievementEarned     = "achievement.earned"
)

// Event is the envelope written to the event stream.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	UserID       string          `json:"user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// New builds an event, marshalling payload into the envelope.
func New(eventType, resourceType string, resourceID uuid.UUID, userID uuid.UUID, payload interface{}) (Event, error) {
	evt := Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID.String(),
		Timestamp:    time.Now().UTC(),
	}
	if userID != uuid.Nil {
		evt.UserID = userID.String()
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		evt.Payload = b
	}
	return evt, nil
}

// StatusChange is the payload of the *.status_changed events.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}
