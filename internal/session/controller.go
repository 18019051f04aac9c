// Package session tracks one teller's working state: idle or serving a
// single ticket, with an elapsed-service timer. Each Controller owns its
// state explicitly so independent sessions never share anything.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mystziel/OneQueue-PH/internal/models"
)

var (
	ErrAlreadyServing = errors.New("already serving a ticket")
	ErrNotServing     = errors.New("no ticket being served")
	ErrBusy           = errors.New("previous request still in flight")
)

// Queue is the slice of the queue service a teller session drives.
type Queue interface {
	CallNext(ctx context.Context, calledBy, counter string) (models.Ticket, bool, error)
	Complete(ctx context.Context, ticketID, counter string) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID, counter, reason string) (models.Ticket, error)
	Transfer(ctx context.Context, ticketID, fromCounter, toCounter string) (models.Ticket, error)
	Listen(fn func([]models.Ticket))
	Close()
}

type Controller struct {
	queue    Queue
	identity string
	counter  string
	clock    func() time.Time

	mu        sync.Mutex
	current   *models.Ticket
	startedAt time.Time
	inFlight  bool
	closed    bool
}

type Option func(*Controller)

func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

func New(queue Queue, identity, counter string, options ...Option) *Controller {
	c := &Controller{
		queue:    queue,
		identity: identity,
		counter:  counter,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Controller) Identity() string { return c.identity }

func (c *Controller) Counter() string { return c.counter }

// Watch subscribes the session to live waiting-list snapshots.
func (c *Controller) Watch(fn func([]models.Ticket)) {
	c.queue.Listen(fn)
}

// begin marks a store request in flight. While one is pending all further
// triggers are rejected; this is the per-client backpressure that replaces
// mid-flight cancellation.
func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrBusy
	}
	c.inFlight = true
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// CallNext claims the next waiting ticket and enters the serving state. An
// empty queue leaves the session idle with no error. Calling while already
// serving is rejected; the UI disables the button, this is the backstop.
func (c *Controller) CallNext(ctx context.Context) (models.Ticket, bool, error) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return models.Ticket{}, false, ErrAlreadyServing
	}
	c.mu.Unlock()

	if err := c.begin(); err != nil {
		return models.Ticket{}, false, err
	}
	defer c.end()

	ticket, ok, err := c.queue.CallNext(ctx, c.identity, c.counter)
	if err != nil || !ok {
		return models.Ticket{}, false, err
	}

	c.mu.Lock()
	c.current = &ticket
	c.startedAt = c.clock()
	c.mu.Unlock()
	return ticket, true, nil
}

// Complete resolves the current ticket as done and returns the session to
// idle. On failure the session stays serving so the teller can retry.
func (c *Controller) Complete(ctx context.Context) error {
	return c.resolve(ctx, func(ticketID string) error {
		_, err := c.queue.Complete(ctx, ticketID, c.counter)
		return err
	})
}

func (c *Controller) Cancel(ctx context.Context, reason string) error {
	return c.resolve(ctx, func(ticketID string) error {
		_, err := c.queue.Cancel(ctx, ticketID, c.counter, reason)
		return err
	})
}

func (c *Controller) Transfer(ctx context.Context, toCounter string) error {
	return c.resolve(ctx, func(ticketID string) error {
		_, err := c.queue.Transfer(ctx, ticketID, c.counter, toCounter)
		return err
	})
}

func (c *Controller) resolve(ctx context.Context, action func(ticketID string) error) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNotServing
	}
	ticketID := c.current.ID
	c.mu.Unlock()

	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	if err := action(ticketID); err != nil {
		return err
	}

	c.mu.Lock()
	c.current = nil
	c.startedAt = time.Time{}
	c.mu.Unlock()
	return nil
}

// Current returns the ticket being served, if any.
func (c *Controller) Current() (models.Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return models.Ticket{}, false
	}
	return *c.current, true
}

func (c *Controller) Serving() bool {
	_, ok := c.Current()
	return ok
}

// Elapsed renders the serving timer as MM:SS. Idle sessions read 00:00.
func (c *Controller) Elapsed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.startedAt.IsZero() {
		return "00:00"
	}
	seconds := int(c.clock().Sub(c.startedAt) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Close ends the session: the waiting-list subscription is released so a
// logged-out dashboard stops consuming snapshots.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.current = nil
	c.startedAt = time.Time{}
	c.mu.Unlock()
	c.queue.Close()
}
