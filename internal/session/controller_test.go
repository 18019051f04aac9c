package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mystziel/OneQueue-PH/internal/models"
)

type fakeQueue struct {
	mu         sync.Mutex
	next       []models.Ticket
	callErr    error
	resolveErr error
	completed  []string
	cancelled  map[string]string
	transfers  map[string]string
	listenFn   func([]models.Ticket)
	closed     bool

	callStarted chan struct{}
	callRelease chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		cancelled: make(map[string]string),
		transfers: make(map[string]string),
	}
}

func (q *fakeQueue) CallNext(ctx context.Context, calledBy, counter string) (models.Ticket, bool, error) {
	if q.callStarted != nil {
		q.callStarted <- struct{}{}
		<-q.callRelease
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.callErr != nil {
		return models.Ticket{}, false, q.callErr
	}
	if len(q.next) == 0 {
		return models.Ticket{}, false, nil
	}
	ticket := q.next[0]
	q.next = q.next[1:]
	return ticket, true, nil
}

func (q *fakeQueue) Complete(ctx context.Context, ticketID, counter string) (models.Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.resolveErr != nil {
		return models.Ticket{}, q.resolveErr
	}
	q.completed = append(q.completed, ticketID)
	return models.Ticket{ID: ticketID, Status: models.StatusCompleted}, nil
}

func (q *fakeQueue) Cancel(ctx context.Context, ticketID, counter, reason string) (models.Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.resolveErr != nil {
		return models.Ticket{}, q.resolveErr
	}
	q.cancelled[ticketID] = reason
	return models.Ticket{ID: ticketID, Status: models.StatusCancelled}, nil
}

func (q *fakeQueue) Transfer(ctx context.Context, ticketID, fromCounter, toCounter string) (models.Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.resolveErr != nil {
		return models.Ticket{}, q.resolveErr
	}
	q.transfers[ticketID] = toCounter
	return models.Ticket{ID: ticketID, Status: models.StatusWaiting}, nil
}

func (q *fakeQueue) Listen(fn func([]models.Ticket)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listenFn = fn
}

func (q *fakeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func TestCallNextEntersServing(t *testing.T) {
	q := newFakeQueue()
	q.next = []models.Ticket{{ID: "t1", TicketNumber: "A-001"}}
	c := New(q, "teller@oq.ph", "counter-1")

	ticket, ok, err := c.CallNext(context.Background())
	if err != nil || !ok {
		t.Fatalf("call next: ok=%v err=%v", ok, err)
	}
	if ticket.ID != "t1" {
		t.Fatalf("unexpected ticket %s", ticket.ID)
	}
	if !c.Serving() {
		t.Fatal("controller should be serving")
	}

	if _, _, err := c.CallNext(context.Background()); !errors.Is(err, ErrAlreadyServing) {
		t.Fatalf("expected ErrAlreadyServing, got %v", err)
	}
}

func TestCallNextEmptyQueueStaysIdle(t *testing.T) {
	q := newFakeQueue()
	c := New(q, "teller@oq.ph", "counter-1")

	_, ok, err := c.CallNext(context.Background())
	if err != nil {
		t.Fatalf("empty queue should not error: %v", err)
	}
	if ok || c.Serving() {
		t.Fatal("controller should remain idle on empty queue")
	}
}

func TestCompleteReturnsToIdle(t *testing.T) {
	q := newFakeQueue()
	q.next = []models.Ticket{{ID: "t1"}}
	c := New(q, "teller@oq.ph", "counter-1")

	if _, _, err := c.CallNext(context.Background()); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if err := c.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Serving() {
		t.Fatal("controller should be idle after complete")
	}
	if len(q.completed) != 1 || q.completed[0] != "t1" {
		t.Fatalf("unexpected completions: %v", q.completed)
	}
	if err := c.Complete(context.Background()); !errors.Is(err, ErrNotServing) {
		t.Fatalf("expected ErrNotServing, got %v", err)
	}
}

func TestResolveFailureKeepsServing(t *testing.T) {
	q := newFakeQueue()
	q.next = []models.Ticket{{ID: "t1"}}
	c := New(q, "teller@oq.ph", "counter-1")

	if _, _, err := c.CallNext(context.Background()); err != nil {
		t.Fatalf("call next: %v", err)
	}
	q.resolveErr = errors.New("store unreachable")
	if err := c.Complete(context.Background()); err == nil {
		t.Fatal("expected complete to fail")
	}
	if !c.Serving() {
		t.Fatal("failed resolution must keep the session serving")
	}

	q.resolveErr = nil
	if err := c.Cancel(context.Background(), models.ReasonNoShow); err != nil {
		t.Fatalf("cancel after retry: %v", err)
	}
	if c.Serving() {
		t.Fatal("controller should be idle after cancel")
	}
	if q.cancelled["t1"] != models.ReasonNoShow {
		t.Fatalf("unexpected cancel reason: %v", q.cancelled)
	}
}

func TestTransferReturnsToIdle(t *testing.T) {
	q := newFakeQueue()
	q.next = []models.Ticket{{ID: "t1"}}
	c := New(q, "teller@oq.ph", "counter-1")

	if _, _, err := c.CallNext(context.Background()); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if err := c.Transfer(context.Background(), "counter-2"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if c.Serving() {
		t.Fatal("controller should be idle after transfer")
	}
	if q.transfers["t1"] != "counter-2" {
		t.Fatalf("unexpected transfers: %v", q.transfers)
	}
}

func TestInFlightGuard(t *testing.T) {
	q := newFakeQueue()
	q.next = []models.Ticket{{ID: "t1"}}
	q.callStarted = make(chan struct{})
	q.callRelease = make(chan struct{})
	c := New(q, "teller@oq.ph", "counter-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, _, err := c.CallNext(context.Background()); err != nil {
			t.Errorf("call next: %v", err)
		}
	}()

	<-q.callStarted
	if _, _, err := c.CallNext(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while request in flight, got %v", err)
	}
	close(q.callRelease)
	<-done
}

func TestElapsedFormat(t *testing.T) {
	q := newFakeQueue()
	q.next = []models.Ticket{{ID: "t1"}}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := New(q, "teller@oq.ph", "counter-1", WithClock(func() time.Time { return now }))

	if got := c.Elapsed(); got != "00:00" {
		t.Fatalf("idle elapsed: expected 00:00, got %s", got)
	}

	if _, _, err := c.CallNext(context.Background()); err != nil {
		t.Fatalf("call next: %v", err)
	}

	cases := []struct {
		advance time.Duration
		want    string
	}{
		{0, "00:00"},
		{9 * time.Second, "00:09"},
		{75 * time.Second, "01:15"},
		{10*time.Minute + 5*time.Second, "10:05"},
	}
	start := now
	for _, tt := range cases {
		now = start.Add(tt.advance)
		if got := c.Elapsed(); got != tt.want {
			t.Fatalf("elapsed after %v: expected %s, got %s", tt.advance, tt.want, got)
		}
	}

	if err := c.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := c.Elapsed(); got != "00:00" {
		t.Fatalf("elapsed should reset after complete, got %s", got)
	}
}

func TestCloseReleasesSubscription(t *testing.T) {
	q := newFakeQueue()
	c := New(q, "teller@oq.ph", "counter-1")
	c.Watch(func([]models.Ticket) {})
	c.Close()
	if !q.closed {
		t.Fatal("close must release the waiting-list subscription")
	}
	c.Close()
}

func TestRegistry(t *testing.T) {
	queues := make([]*fakeQueue, 0, 2)
	registry := NewRegistry(func() Queue {
		q := newFakeQueue()
		queues = append(queues, q)
		return q
	})

	a := registry.GetOrCreate("token-a", "a@oq.ph", "counter-1")
	again := registry.GetOrCreate("token-a", "a@oq.ph", "counter-1")
	if a != again {
		t.Fatal("GetOrCreate should return the existing session")
	}
	b := registry.GetOrCreate("token-b", "b@oq.ph", "counter-2")
	if a == b {
		t.Fatal("distinct tokens must get distinct sessions")
	}
	if len(queues) != 2 {
		t.Fatalf("expected 2 queues created, got %d", len(queues))
	}

	registry.Remove("token-a")
	if _, ok := registry.Get("token-a"); ok {
		t.Fatal("removed session still present")
	}
	if !queues[0].closed {
		t.Fatal("removed session's subscription not released")
	}

	registry.CloseAll()
	if !queues[1].closed {
		t.Fatal("CloseAll must release remaining sessions")
	}
}
