// Package queue exposes the teller-facing queue operations over the ticket
// store: claiming the next waiting ticket, resolving it, transferring it to
// another counter, and subscribing to live waiting-list snapshots.
package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

// Notifier delivers full ordered waiting-list snapshots to subscribers.
// The cancel func tears the subscription down; calling it twice is safe.
type Notifier interface {
	Subscribe(fn func([]models.Ticket)) (cancel func())
}

type Service struct {
	store    store.TicketStore
	notifier Notifier
	clock    func() time.Time

	mu           sync.Mutex
	cancelListen func()
}

type Option func(*Service)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func New(st store.TicketStore, notifier Notifier, options ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: notifier,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Listen subscribes fn to waiting-list snapshots. A second call replaces the
// previous subscription so repeated listens never stack.
func (s *Service) Listen(fn func([]models.Ticket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelListen != nil {
		s.cancelListen()
	}
	s.cancelListen = s.notifier.Subscribe(fn)
}

// Close releases the waiting-list subscription.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelListen != nil {
		s.cancelListen()
		s.cancelListen = nil
	}
}

func (s *Service) IssueTicket(ctx context.Context, ownerName string) (models.Ticket, error) {
	return s.store.CreateTicket(ctx, store.CreateTicketInput{
		OwnerName: ownerName,
		CreatedAt: s.clock(),
	})
}

// CallNext claims the head of the waiting queue for the counter. The bool
// result is false when no ticket is available; losing a claim race to
// another counter looks identical to an empty queue.
func (s *Service) CallNext(ctx context.Context, calledBy, counter string) (models.Ticket, bool, error) {
	return s.store.ClaimNext(ctx, store.ClaimInput{
		Counter:  counter,
		CalledBy: calledBy,
		CalledAt: s.clock(),
	})
}

func (s *Service) Complete(ctx context.Context, ticketID, counter string) (models.Ticket, error) {
	return s.store.CompleteTicket(ctx, store.ResolveInput{
		TicketID:   ticketID,
		Counter:    counter,
		OccurredAt: s.clock(),
	})
}

func (s *Service) Cancel(ctx context.Context, ticketID, counter, reason string) (models.Ticket, error) {
	reason = strings.TrimSpace(reason)
	if reason != models.ReasonCancel && reason != models.ReasonNoShow {
		return models.Ticket{}, store.ErrInvalidReason
	}
	return s.store.CancelTicket(ctx, store.ResolveInput{
		TicketID:   ticketID,
		Counter:    counter,
		Reason:     reason,
		OccurredAt: s.clock(),
	})
}

// Transfer sends a serving ticket to another counter. The ticket re-enters
// the waiting queue reserved for the target, keeping its original arrival
// time so FIFO fairness is unaffected.
func (s *Service) Transfer(ctx context.Context, ticketID, fromCounter, toCounter string) (models.Ticket, error) {
	if toCounter == "" || toCounter == fromCounter {
		return models.Ticket{}, store.ErrCounterMismatch
	}
	return s.store.TransferTicket(ctx, store.TransferInput{
		TicketID:    ticketID,
		FromCounter: fromCounter,
		ToCounter:   toCounter,
		OccurredAt:  s.clock(),
	})
}

func (s *Service) ActiveCounters(ctx context.Context) ([]models.Counter, error) {
	return s.store.ListCounters(ctx, true)
}

func (s *Service) Waiting(ctx context.Context) ([]models.Ticket, error) {
	return s.store.ListWaiting(ctx)
}

func (s *Service) Serving(ctx context.Context, counter string) (models.Ticket, bool, error) {
	return s.store.GetServingTicket(ctx, counter)
}

// SetCounterActive toggles a counter's availability, e.g. a teller going on
// break.
func (s *Service) SetCounterActive(ctx context.Context, counter string, active bool) error {
	return s.store.SetCounterActive(ctx, counter, active)
}
