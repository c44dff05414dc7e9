package models

import (
	"encoding/json"
	"time"
)

// OrphanedNotification records a payment outcome that matched neither a
// staged checkout nor an existing order.
type OrphanedNotification struct {
	ID           int64           `json:"id"`
	OrderRef     string          `json:"order_ref"`
	Source       string          `json:"source"`
	GatewayState string          `json:"gateway_state"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
