// Package memory implements the ticket store on process memory. It backs
// unit tests and single-node development runs; production deployments use
// the postgres store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

const ticketNumberPad = 3

type Store struct {
	mu       sync.Mutex
	tickets  map[string]*models.Ticket
	seq      map[string]int64
	counters map[string]*models.Counter
	outbox   []store.OutboxEvent
	prefix   string
	nextSeq  int64
}

type Options struct {
	TicketPrefix string
}

func NewStore(options Options) *Store {
	prefix := strings.TrimSpace(options.TicketPrefix)
	if prefix == "" {
		prefix = "A"
	}
	return &Store{
		tickets:  make(map[string]*models.Ticket),
		seq:      make(map[string]int64),
		counters: make(map[string]*models.Counter),
		prefix:   prefix,
	}
}

// SeedCounters registers counters, replacing any existing entry by name.
func (s *Store) SeedCounters(counters []models.Counter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, counter := range counters {
		c := counter
		s.counters[c.Name] = &c
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.seq[s.prefix]++
	ticket := models.Ticket{
		ID:           uuid.NewString(),
		TicketNumber: fmt.Sprintf("%s-%0*d", s.prefix, ticketNumberPad, s.seq[s.prefix]),
		OwnerName:    strings.TrimSpace(input.OwnerName),
		Status:       models.StatusWaiting,
		CreatedAt:    createdAt,
	}
	s.tickets[ticket.ID] = &ticket
	s.appendEventLocked(store.EventTicketCreated, ticket)
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return *ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var waiting []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusWaiting {
			waiting = append(waiting, *ticket)
		}
	}
	sortByArrival(waiting)
	return waiting, nil
}

func (s *Store) ClaimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[input.Counter]
	if !ok {
		return models.Ticket{}, false, store.ErrCounterNotFound
	}
	if !counter.Active {
		return models.Ticket{}, false, store.ErrCounterUnavailable
	}
	// One serving ticket per counter. A second claim before the first
	// ticket is resolved is a state error, not a queue miss.
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusServing && ticket.Counter != nil && *ticket.Counter == input.Counter {
			return models.Ticket{}, false, store.ErrInvalidState
		}
	}

	var candidates []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if ticket.TransferTo != nil && *ticket.TransferTo != input.Counter {
			continue
		}
		candidates = append(candidates, *ticket)
	}
	if len(candidates) == 0 {
		return models.Ticket{}, false, nil
	}
	sortByArrival(candidates)

	head := s.tickets[candidates[0].ID]
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	counterName := input.Counter
	head.Status = models.StatusServing
	head.Counter = &counterName
	head.TransferTo = nil
	head.CalledAt = &calledAt
	head.CalledBy = input.CalledBy
	s.appendEventLocked(store.EventTicketCalled, *head)
	return *head, true, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolve(input, "complete", models.StatusCompleted, store.EventTicketCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	action := "cancel"
	status := models.StatusCancelled
	event := store.EventTicketCancelled
	if input.Reason == models.ReasonNoShow {
		action = "no_show"
		status = models.StatusNoShow
		event = store.EventTicketNoShow
	}
	return s.resolve(input, action, status, event)
}

func (s *Store) resolve(input store.ResolveInput, action, status, event string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	if input.Counter != "" && (ticket.Counter == nil || *ticket.Counter != input.Counter) {
		return models.Ticket{}, store.ErrCounterMismatch
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	ticket.Status = status
	ticket.CompletedAt = &occurredAt
	s.appendEventLocked(event, *ticket)
	return *ticket, nil
}

func (s *Store) TransferTicket(ctx context.Context, input store.TransferInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[input.ToCounter]; !ok {
		return models.Ticket{}, store.ErrCounterNotFound
	}

	ticket, ok := s.tickets[input.TicketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !store.ValidTransition("transfer", ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	if input.FromCounter != "" && (ticket.Counter == nil || *ticket.Counter != input.FromCounter) {
		return models.Ticket{}, store.ErrCounterMismatch
	}

	target := input.ToCounter
	ticket.Status = models.StatusWaiting
	ticket.Counter = nil
	ticket.CalledAt = nil
	ticket.CalledBy = ""
	ticket.TransferTo = &target
	s.appendEventLocked(store.EventTicketTransferred, *ticket)
	return *ticket, nil
}

func (s *Store) GetServingTicket(ctx context.Context, counter string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusServing && ticket.Counter != nil && *ticket.Counter == counter {
			return *ticket, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

func (s *Store) ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counters []models.Counter
	for _, counter := range s.counters {
		if activeOnly && !counter.Active {
			continue
		}
		counters = append(counters, *counter)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i].Name < counters[j].Name })
	return counters, nil
}

func (s *Store) SetCounterActive(ctx context.Context, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[name]
	if !ok {
		return store.ErrCounterNotFound
	}
	counter.Active = active
	return nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.EventCursor, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if !after.Precedes(event) {
			continue
		}
		events = append(events, event)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Store) appendEventLocked(eventType string, ticket models.Ticket) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	s.nextSeq++
	s.outbox = append(s.outbox, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC().Add(time.Duration(s.nextSeq) * time.Nanosecond),
	})
}

func sortByArrival(tickets []models.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].TicketNumber < tickets[j].TicketNumber
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
}
