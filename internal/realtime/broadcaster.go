// Package realtime pushes live queue state to connected clients. A
// Broadcaster tails the outbox, relays each event to the hub, and after
// every batch publishes a fresh waiting-list snapshot. Snapshots are
// always the full ordered list; clients replace state rather than patch
// it.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/queue"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

// Source is the slice of the ticket store the broadcaster tails.
type Source interface {
	ListWaiting(ctx context.Context) ([]models.Ticket, error)
	ListOutboxEvents(ctx context.Context, after store.EventCursor, limit int) ([]store.OutboxEvent, error)
}

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const TypeQueueSnapshot = "queue.snapshot"

type Options struct {
	PollInterval time.Duration
	BatchSize    int
}

type Broadcaster struct {
	source   Source
	hub      *Hub
	log      *zap.Logger
	interval time.Duration
	batch    int
	clock    func() time.Time

	mu        sync.Mutex
	offset    store.EventCursor
	listeners map[int]func([]models.Ticket)
	nextID    int
}

func NewBroadcaster(source Source, hub *Hub, log *zap.Logger, options Options) *Broadcaster {
	if options.PollInterval <= 0 {
		options.PollInterval = time.Second
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 100
	}
	return &Broadcaster{
		source:    source,
		hub:       hub,
		log:       log,
		interval:  options.PollInterval,
		batch:     options.BatchSize,
		clock:     func() time.Time { return time.Now().UTC() },
		offset:    store.EventCursor{Time: time.Unix(0, 0).UTC()},
		listeners: make(map[int]func([]models.Ticket)),
	}
}

// Subscribe registers an in-process listener for waiting-list snapshots.
// The returned cancel func removes it.
func (b *Broadcaster) Subscribe(fn func([]models.Ticket)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Run tails the outbox until ctx is done. It publishes an initial
// snapshot so late-starting displays are never blank.
func (b *Broadcaster) Run(ctx context.Context) {
	if err := b.publishSnapshot(ctx); err != nil {
		b.log.Warn("initial snapshot failed", zap.Error(err))
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil {
				b.log.Warn("outbox poll failed", zap.Error(err))
			}
		}
	}
}

// Poll drains one batch of outbox events. Any events at all mean the
// waiting list may have changed, so a snapshot follows the batch.
func (b *Broadcaster) Poll(ctx context.Context) error {
	b.mu.Lock()
	offset := b.offset
	b.mu.Unlock()

	events, err := b.source.ListOutboxEvents(ctx, offset, b.batch)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		offset = store.CursorFor(event)
		envelope, err := json.Marshal(Envelope{
			Type:      event.Type,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			continue
		}
		b.hub.Broadcast(envelope)
	}

	b.mu.Lock()
	b.offset = offset
	b.mu.Unlock()

	return b.publishSnapshot(ctx)
}

func (b *Broadcaster) publishSnapshot(ctx context.Context) error {
	tickets, err := b.source.ListWaiting(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	listeners := make([]func([]models.Ticket), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(tickets)
	}

	payload, err := json.Marshal(queue.Project(tickets))
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(Envelope{
		Type:      TypeQueueSnapshot,
		Payload:   payload,
		CreatedAt: b.clock(),
	})
	if err != nil {
		return err
	}
	b.hub.Broadcast(envelope)
	return nil
}
