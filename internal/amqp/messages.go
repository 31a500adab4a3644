package amqp

import (
	"encoding/json"
	"time"

	"expensewatch/internal/core"
)

// GrowthMessage is published when a poll tick sees new expense records.
// It carries counts only; consumers fetch the records from the API.
type GrowthMessage struct {
	EventID       string    `json:"event_id"`
	PreviousCount int       `json:"previous_count"`
	CurrentCount  int       `json:"current_count"`
	NewRecords    int       `json:"new_records"`
	MobileMoney   int       `json:"mobile_money"`
	DetectedAt    time.Time `json:"detected_at"`
}

// NewGrowthMessage builds the message for a growth event
func NewGrowthMessage(ev core.GrowthEvent) *GrowthMessage {
	detected := ev.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	return &GrowthMessage{
		EventID:       ev.ID,
		PreviousCount: ev.PreviousCount,
		CurrentCount:  ev.CurrentCount,
		NewRecords:    ev.NewRecords,
		MobileMoney:   ev.MobileMoney,
		DetectedAt:    detected.UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *GrowthMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
