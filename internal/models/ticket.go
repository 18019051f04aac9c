package models

import "time"

type Ticket struct {
	ID           string     `json:"id"`
	TicketNumber string     `json:"ticket_number"`
	OwnerName    string     `json:"owner_name,omitempty"`
	Status       string     `json:"status"`
	Counter      *string    `json:"counter,omitempty"`
	TransferTo   *string    `json:"transfer_to,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CalledBy     string     `json:"called_by,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Cancellation reasons accepted by the cancel operation. "no_show" marks the
// ticket no_show instead of cancelled.
const (
	ReasonCancel = "cancel"
	ReasonNoShow = "no_show"
)

type Counter struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}
