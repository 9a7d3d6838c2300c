package notification

import "time"

const EventTypeDelivery = "notification_delivery"

// Delivery describes one flushed batch.
type Delivery struct {
	EventType  string    `json:"type"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason"`
	Messages   int       `json:"messages"`
	Attempts   int       `json:"attempts"`
	OccurredAt time.Time `json:"timestamp"`
}

func (d Delivery) Type() string {
	return d.EventType
}

func (d Delivery) Timestamp() time.Time {
	return d.OccurredAt
}

func (d Delivery) Success() bool {
	return d.StatusCode >= 200 && d.StatusCode < 300
}
