package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mystziel/OneQueue-PH/internal/models"
)

type CreateTicketInput struct {
	OwnerName string
	CreatedAt time.Time
}

type ClaimInput struct {
	Counter  string
	CalledBy string
	CalledAt time.Time
}

type ResolveInput struct {
	TicketID   string
	Counter    string
	Reason     string
	OccurredAt time.Time
}

type TransferInput struct {
	TicketID    string
	FromCounter string
	ToCounter   string
	OccurredAt  time.Time
}

// TicketStore is the single source of truth for ticket state. ClaimNext must
// be atomic: two concurrent claims never receive the same ticket. An empty
// queue is reported through the bool result, never through an error.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListWaiting(ctx context.Context) ([]models.Ticket, error)
	ClaimNext(ctx context.Context, input ClaimInput) (models.Ticket, bool, error)
	CompleteTicket(ctx context.Context, input ResolveInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input ResolveInput) (models.Ticket, error)
	TransferTicket(ctx context.Context, input TransferInput) (models.Ticket, error)
	GetServingTicket(ctx context.Context, counter string) (models.Ticket, bool, error)
	ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error)
	SetCounterActive(ctx context.Context, name string, active bool) error
	ListOutboxEvents(ctx context.Context, after EventCursor, limit int) ([]OutboxEvent, error)
}

type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         string
	Counter      string
	VerifyToken  string
	CreatedAt    time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, string, error)
	MarkEmailVerified(ctx context.Context, token string) (models.User, error)
	SetResetToken(ctx context.Context, email, token string) error
}

type SessionStore interface {
	SaveSession(ctx context.Context, session models.Session) error
	GetSession(ctx context.Context, token string) (models.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventCursor marks a consumer's position in the outbox. Events are
// ordered by (created_at, event_id); timestamps only have microsecond
// precision, so without the event_id tiebreak a batch boundary falling
// inside a group of same-timestamp events would skip the rest of the
// group for good.
type EventCursor struct {
	Time    time.Time
	EventID string
}

// CursorFor returns the cursor sitting exactly on event.
func CursorFor(event OutboxEvent) EventCursor {
	return EventCursor{Time: event.CreatedAt, EventID: event.EventID}
}

// Precedes reports whether the cursor sits strictly before event.
func (c EventCursor) Precedes(event OutboxEvent) bool {
	if event.CreatedAt.Equal(c.Time) {
		return event.EventID > c.EventID
	}
	return event.CreatedAt.After(c.Time)
}

const (
	EventTicketCreated     = "ticket.created"
	EventTicketCalled      = "ticket.called"
	EventTicketCompleted   = "ticket.completed"
	EventTicketCancelled   = "ticket.cancelled"
	EventTicketNoShow      = "ticket.no_show"
	EventTicketTransferred = "ticket.transferred"
)
