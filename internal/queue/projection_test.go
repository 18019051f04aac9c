package queue

import (
	"testing"
	"time"

	"github.com/mystziel/OneQueue-PH/internal/models"
)

func TestProjectEmptyQueue(t *testing.T) {
	projection := Project(nil)
	if !projection.Empty {
		t.Fatal("empty queue must project Empty=true")
	}
	if projection.Count != 0 || len(projection.Entries) != 0 {
		t.Fatalf("unexpected projection: %+v", projection)
	}
}

func TestProjectOrderAndGuestFallback(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{
		{TicketNumber: "A-001", OwnerName: "Jose", CreatedAt: base},
		{TicketNumber: "A-002", CreatedAt: base.Add(time.Minute)},
	}

	projection := Project(tickets)
	if projection.Empty {
		t.Fatal("non-empty queue projected as empty")
	}
	if projection.Count != 2 {
		t.Fatalf("expected count 2, got %d", projection.Count)
	}
	if projection.Entries[0].TicketNumber != "A-001" || projection.Entries[0].OwnerName != "Jose" {
		t.Fatalf("unexpected first entry: %+v", projection.Entries[0])
	}
	if projection.Entries[1].OwnerName != "Guest" {
		t.Fatalf("expected Guest fallback, got %q", projection.Entries[1].OwnerName)
	}
}
