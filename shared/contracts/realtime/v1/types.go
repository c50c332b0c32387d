package v1

import "wastewise/shared/contracts/isotime"

// ---- Payloads ----

// PickupPayload is carried by pickup lifecycle events
// (created, accepted, rejected, collected, completed, cancelled).
type PickupPayload struct {
	PickupID    string        `json:"pickup_id"`
	Status      string        `json:"status"`
	CollectorID string        `json:"collector_id,omitempty"`
	WasteType   string        `json:"waste_type,omitempty"`
	ScheduledAt *isotime.Time `json:"scheduled_at,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// LocationPayload streams the position of the collector assigned to a pickup.
type LocationPayload struct {
	PickupID    string  `json:"pickup_id"`
	CollectorID string  `json:"collector_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ETASeconds  int     `json:"eta_seconds,omitempty"`
}

// RewardPayload credits points to the current user.
type RewardPayload struct {
	Points   int    `json:"points"`
	Total    int    `json:"total"`
	Reason   string `json:"reason,omitempty"`
	PickupID string `json:"pickup_id,omitempty"`
}

// ClassificationPayload carries the outcome of an asynchronous photo classification.
type ClassificationPayload struct {
	ImageID    string  `json:"image_id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// NotificationPayload is a generic user-facing notice.
type NotificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}
