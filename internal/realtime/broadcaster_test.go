package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/queue"
	"github.com/mystziel/OneQueue-PH/internal/store"
	"github.com/mystziel/OneQueue-PH/internal/store/memory"
)

func drain(t *testing.T, client *Client) []Envelope {
	t.Helper()
	var envelopes []Envelope
	for {
		select {
		case msg := <-client.Send:
			var envelope Envelope
			if err := json.Unmarshal(msg, &envelope); err != nil {
				t.Fatalf("bad envelope %q: %v", msg, err)
			}
			envelopes = append(envelopes, envelope)
		default:
			return envelopes
		}
	}
}

func TestPollBroadcastsEventsAndSnapshot(t *testing.T) {
	st := memory.NewStore(memory.Options{TicketPrefix: "A"})
	hub := NewHub(zap.NewNop())
	broadcaster := NewBroadcaster(st, hub, zap.NewNop(), Options{})
	ctx := context.Background()

	client := &Client{ID: "display", Send: make(chan []byte, 16)}
	hub.Register(client)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{OwnerName: "Jose", CreatedAt: base}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	envelopes := drain(t, client)
	if len(envelopes) != 3 {
		t.Fatalf("expected 2 events + 1 snapshot, got %d: %+v", len(envelopes), envelopes)
	}
	if envelopes[0].Type != store.EventTicketCreated || envelopes[1].Type != store.EventTicketCreated {
		t.Fatalf("unexpected event types: %+v", envelopes)
	}

	last := envelopes[2]
	if last.Type != TypeQueueSnapshot {
		t.Fatalf("expected snapshot last, got %s", last.Type)
	}
	var projection queue.Projection
	if err := json.Unmarshal(last.Payload, &projection); err != nil {
		t.Fatalf("bad snapshot payload: %v", err)
	}
	if projection.Count != 2 || projection.Empty {
		t.Fatalf("unexpected projection: %+v", projection)
	}
	if projection.Entries[0].OwnerName != "Jose" || projection.Entries[1].OwnerName != "Guest" {
		t.Fatalf("unexpected entries: %+v", projection.Entries)
	}
}

func TestPollAdvancesOffset(t *testing.T) {
	st := memory.NewStore(memory.Options{TicketPrefix: "A"})
	hub := NewHub(zap.NewNop())
	broadcaster := NewBroadcaster(st, hub, zap.NewNop(), Options{})
	ctx := context.Background()

	client := &Client{ID: "display", Send: make(chan []byte, 16)}
	hub.Register(client)

	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	drain(t, client)

	// No new events: the second poll must be silent, not a replay.
	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if envelopes := drain(t, client); len(envelopes) != 0 {
		t.Fatalf("expected no messages on quiet poll, got %+v", envelopes)
	}
}

type fakeSource struct {
	events []store.OutboxEvent
}

func (f *fakeSource) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	return nil, nil
}

func (f *fakeSource) ListOutboxEvents(ctx context.Context, after store.EventCursor, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, event := range f.events {
		if after.Precedes(event) {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestPollKeepsEventsSharingATimestamp(t *testing.T) {
	// Outbox timestamps only carry microsecond precision, so concurrent
	// commits can collide. A batch boundary inside such a group must not
	// drop the rest of the group.
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{events: []store.OutboxEvent{
		{EventID: "e1", Type: store.EventTicketCalled, Payload: []byte(`{}`), CreatedAt: at},
		{EventID: "e2", Type: store.EventTicketCalled, Payload: []byte(`{}`), CreatedAt: at},
	}}
	hub := NewHub(zap.NewNop())
	broadcaster := NewBroadcaster(source, hub, zap.NewNop(), Options{BatchSize: 1})
	ctx := context.Background()

	client := &Client{ID: "display", Send: make(chan []byte, 16)}
	hub.Register(client)

	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	var relayed int
	for _, envelope := range drain(t, client) {
		if envelope.Type == store.EventTicketCalled {
			relayed++
		}
	}
	if relayed != 2 {
		t.Fatalf("expected both events relayed, got %d", relayed)
	}

	// Both consumed: a third poll is silent.
	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if envelopes := drain(t, client); len(envelopes) != 0 {
		t.Fatalf("expected no replay, got %+v", envelopes)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	st := memory.NewStore(memory.Options{TicketPrefix: "A"})
	broadcaster := NewBroadcaster(st, NewHub(zap.NewNop()), zap.NewNop(), Options{})
	ctx := context.Background()

	var snapshots [][]models.Ticket
	cancel := broadcaster.Subscribe(func(tickets []models.Ticket) {
		snapshots = append(snapshots, tickets)
	})

	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{OwnerName: "Jose", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(snapshots) != 1 || len(snapshots[0]) != 1 {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}

	cancel()
	if _, err := st.CreateTicket(ctx, store.CreateTicketInput{CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if err := broadcaster.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatal("cancelled subscriber still receiving snapshots")
	}
}
