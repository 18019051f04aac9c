package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

const ticketNumberPad = 3

type Store struct {
	pool   *pgxpool.Pool
	prefix string
}

type Options struct {
	TicketPrefix string
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	prefix := strings.TrimSpace(options.TicketPrefix)
	if prefix == "" {
		prefix = "A"
	}
	return &Store{pool: pool, prefix: prefix}
}

const ticketColumns = "ticket_id, ticket_number, owner_name, status, counter, transfer_to, created_at, called_at, completed_at, called_by"

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var ownerNull sql.NullString
	var counterNull sql.NullString
	var transferNull sql.NullString
	var calledAtNull sql.NullTime
	var completedAtNull sql.NullTime
	var calledByNull sql.NullString
	if err := row.Scan(&ticket.ID, &ticket.TicketNumber, &ownerNull, &ticket.Status, &counterNull, &transferNull, &ticket.CreatedAt, &calledAtNull, &completedAtNull, &calledByNull); err != nil {
		return models.Ticket{}, err
	}
	if ownerNull.Valid {
		ticket.OwnerName = ownerNull.String
	}
	ticket.Counter = nullStringPtr(counterNull)
	ticket.TransferTo = nullStringPtr(transferNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.CompletedAt = nullTimePtr(completedAtNull)
	if calledByNull.Valid {
		ticket.CalledBy = calledByNull.String
	}
	return ticket, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := nextTicketNumber(ctx, tx, s.prefix)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, ticket_number, owner_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ticketColumns+`
	`, uuid.NewString(), fmt.Sprintf("%s-%0*d", s.prefix, ticketNumberPad, seq), nullIfEmpty(input.OwnerName), models.StatusWaiting, createdAt)

	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventTicketCreated, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'waiting'
		ORDER BY created_at ASC, ticket_number ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// ClaimNext atomically moves the head of the waiting queue to serving under
// the given counter. The SKIP LOCKED head selection is the optimistic
// concurrency guard: concurrent claimers never lock the same row, so a
// ticket is claimed exactly once.
func (s *Store) ClaimNext(ctx context.Context, input store.ClaimInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	active, err := counterActive(ctx, tx, input.Counter)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !active {
		return models.Ticket{}, false, store.ErrCounterUnavailable
	}

	// One serving ticket per counter. counterActive locks the counter row,
	// so concurrent claims for the same counter serialize and the second
	// one sees the first one's serving ticket here.
	occupied, err := counterOccupied(ctx, tx, input.Counter)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if occupied {
		err = store.ErrInvalidState
		return models.Ticket{}, false, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE status = 'waiting'
				AND (transfer_to IS NULL OR transfer_to = $1)
				AND NOT EXISTS (
					SELECT 1 FROM tickets serving
					WHERE serving.status = 'serving' AND serving.counter = $1
				)
			ORDER BY created_at ASC, ticket_number ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = 'serving',
			counter = $1,
			transfer_to = NULL,
			called_at = $2,
			called_by = $3
		FROM next_ticket
		WHERE tickets.ticket_id = next_ticket.ticket_id
		RETURNING `+qualifiedTicketColumns("tickets")+`
	`, input.Counter, calledAt, input.CalledBy)

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.Commit(ctx); err != nil {
				return models.Ticket{}, false, err
			}
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventTicketCalled, ticket); err != nil {
		return models.Ticket{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	return s.resolveTicket(ctx, input, models.StatusCompleted, store.EventTicketCompleted)
}

func (s *Store) CancelTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	status := models.StatusCancelled
	event := store.EventTicketCancelled
	if input.Reason == models.ReasonNoShow {
		status = models.StatusNoShow
		event = store.EventTicketNoShow
	}
	return s.resolveTicket(ctx, input, status, event)
}

func (s *Store) resolveTicket(ctx context.Context, input store.ResolveInput, status, event string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	query := `
		UPDATE tickets
		SET status = $2,
			completed_at = $3
		WHERE ticket_id = $1 AND status = 'serving'
	`
	args := []interface{}{input.TicketID, status, occurredAt}
	if input.Counter != "" {
		query += " AND counter = $4"
		args = append(args, input.Counter)
	}
	query += " RETURNING " + ticketColumns

	ticket, err := scanTicket(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.classifyResolveFailure(ctx, tx, input)
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, event, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) classifyResolveFailure(ctx context.Context, tx pgx.Tx, input store.ResolveInput) error {
	var status string
	var counterNull sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT status, counter FROM tickets WHERE ticket_id = $1
	`, input.TicketID)
	if err := row.Scan(&status, &counterNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if status != models.StatusServing {
		return store.ErrInvalidState
	}
	return store.ErrCounterMismatch
}

func (s *Store) TransferTicket(ctx context.Context, input store.TransferInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	exists, err := counterExists(ctx, tx, input.ToCounter)
	if err != nil {
		return models.Ticket{}, err
	}
	if !exists {
		return models.Ticket{}, store.ErrCounterNotFound
	}

	query := `
		UPDATE tickets
		SET status = 'waiting',
			counter = NULL,
			called_at = NULL,
			called_by = '',
			transfer_to = $2
		WHERE ticket_id = $1 AND status = 'serving'
	`
	args := []interface{}{input.TicketID, input.ToCounter}
	if input.FromCounter != "" {
		query += " AND counter = $3"
		args = append(args, input.FromCounter)
	}
	query += " RETURNING " + ticketColumns

	ticket, err := scanTicket(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = s.classifyResolveFailure(ctx, tx, store.ResolveInput{TicketID: input.TicketID, Counter: input.FromCounter})
			return models.Ticket{}, err
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventTicketTransferred, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetServingTicket(ctx context.Context, counter string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'serving' AND counter = $1
		ORDER BY called_at DESC
		LIMIT 1
	`, counter)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) ListCounters(ctx context.Context, activeOnly bool) ([]models.Counter, error) {
	query := `
		SELECT name, label, active
		FROM counters
	`
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY name ASC"

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var counter models.Counter
		if err := rows.Scan(&counter.Name, &counter.Label, &counter.Active); err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *Store) SetCounterActive(ctx context.Context, name string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE counters SET active = $2 WHERE name = $1
	`, name, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.EventCursor, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, after.Time, after.EventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// counterActive takes a row lock so claims for the same counter serialize.
func counterActive(ctx context.Context, tx pgx.Tx, name string) (bool, error) {
	var active bool
	row := tx.QueryRow(ctx, `
		SELECT active FROM counters WHERE name = $1 FOR UPDATE
	`, name)
	if err := row.Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, store.ErrCounterNotFound
		}
		return false, err
	}
	return active, nil
}

func counterOccupied(ctx context.Context, tx pgx.Tx, name string) (bool, error) {
	var occupied bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tickets WHERE status = 'serving' AND counter = $1)
	`, name)
	if err := row.Scan(&occupied); err != nil {
		return false, err
	}
	return occupied, nil
}

func counterExists(ctx context.Context, tx pgx.Tx, name string) (bool, error) {
	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM counters WHERE name = $1)
	`, name)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx, prefix string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (prefix, next_number)
		VALUES ($1, 1)
		ON CONFLICT (prefix)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, prefix)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payload, time.Now().UTC())
	return err
}

func qualifiedTicketColumns(table string) string {
	cols := strings.Split(ticketColumns, ", ")
	for i, col := range cols {
		cols[i] = table + "." + col
	}
	return strings.Join(cols, ", ")
}

func nullIfEmpty(value string) interface{} {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}
