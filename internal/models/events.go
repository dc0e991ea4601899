package models

import (
	"fmt"
	"time"
)

// Promotion actions
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// PromotionEvent is published after a production document is created or updated
type PromotionEvent struct {
	EventID    string    `json:"event_id"`
	RunID      string    `json:"run_id"`
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Action     string    `json:"action"`
	Fields     []string  `json:"fields,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RoutingKey follows the exchange's topic layout: paysync.<collection>.<action>
func (e PromotionEvent) RoutingKey() string {
	return fmt.Sprintf("paysync.%s.%s", e.Collection, e.Action)
}
