// Package announce turns queue events into human-readable callouts for
// the waiting room. The worker tails the outbox independently of the
// realtime broadcaster; each consumer keeps its own offset.
package announce

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mystziel/OneQueue-PH/internal/store"
)

type Source interface {
	ListOutboxEvents(ctx context.Context, after store.EventCursor, limit int) ([]store.OutboxEvent, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

type Worker struct {
	source   Source
	provider Provider
	log      *zap.Logger
	interval time.Duration
	batch    int

	mu     sync.Mutex
	offset store.EventCursor
}

func New(source Source, provider Provider, log *zap.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		source:   source,
		provider: provider,
		log:      log,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		// Start from now: replaying old callouts over the PA after a
		// restart would confuse everyone in the room.
		offset: store.EventCursor{Time: time.Now().UTC()},
	}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				w.log.Warn("announce run failed", zap.Error(err))
			}
		}
	}
}

// Run processes one batch. A failed send is logged and skipped; the
// offset still advances because a stale callout is worse than a missed
// one.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	offset := w.offset
	w.mu.Unlock()

	events, err := w.source.ListOutboxEvents(ctx, offset, w.batch)
	if err != nil {
		return err
	}

	for _, event := range events {
		offset = store.CursorFor(event)
		message := MessageFor(event)
		if message == "" {
			continue
		}
		if err := w.provider.Send(ctx, message); err != nil {
			w.log.Warn("announce send failed", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}

	w.mu.Lock()
	w.offset = offset
	w.mu.Unlock()
	return nil
}

type ticketPayload struct {
	TicketNumber string  `json:"ticket_number"`
	Counter      *string `json:"counter"`
	TransferTo   *string `json:"transfer_to"`
}

// MessageFor renders the callout for an event, or "" for events the room
// does not need to hear about.
func MessageFor(event store.OutboxEvent) string {
	var payload ticketPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return ""
	}
	if payload.TicketNumber == "" {
		return ""
	}
	switch event.Type {
	case store.EventTicketCalled:
		if payload.Counter == nil {
			return ""
		}
		return "Now serving " + payload.TicketNumber + " at " + *payload.Counter + "."
	case store.EventTicketTransferred:
		if payload.TransferTo == nil {
			return ""
		}
		return "Ticket " + payload.TicketNumber + " has been moved to " + *payload.TransferTo + "."
	case store.EventTicketNoShow:
		return "Ticket " + payload.TicketNumber + " was marked as a no-show."
	default:
		return ""
	}
}
