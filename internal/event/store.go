package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgreSQL error codes the store translates into domain errors.
const (
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// Store manages events in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("event: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("event: ping: %w", err)
	}
	return db, nil
}

// NewStore creates a new event store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateEvent inserts ev, assigning a fresh ID, open status and creation
// time.
func (s *Store) CreateEvent(ctx context.Context, ev *Event) error {
	ev.ID = uuid.NewString()
	ev.Status = StatusOpen
	ev.CreatedAt = time.Now().UTC()
	ev.DrawnAt = nil

	const query = `
		INSERT INTO events (id, name, organizer_email, budget_cents, currency, exchange_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Name, ev.OrganizerEmail, ev.BudgetCents, ev.Currency,
		nullTime(ev.ExchangeDate), ev.Status, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("event: insert: %w", err)
	}
	return nil
}

// GetEvent returns the event with the given ID, or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	const query = `
		SELECT id, name, organizer_email, budget_cents, currency, exchange_date, status, created_at, drawn_at
		FROM events
		WHERE id = $1`

	var (
		ev           Event
		exchangeDate sql.NullTime
		drawnAt      sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ev.ID, &ev.Name, &ev.OrganizerEmail, &ev.BudgetCents, &ev.Currency,
		&exchangeDate, &ev.Status, &ev.CreatedAt, &drawnAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("event: get: %w", err)
	}
	ev.ExchangeDate = timePtr(exchangeDate)
	ev.DrawnAt = timePtr(drawnAt)
	return &ev, nil
}

// AddParticipant adds p to its event, or updates the participant with the
// same email. Participants cannot change once the event has been drawn.
func (s *Store) AddParticipant(ctx context.Context, p *Participant) error {
	if err := s.requireOpen(ctx, s.db, p.EventID); err != nil {
		return err
	}
	if len(p.Channels) == 0 {
		p.Channels = []string{"email"}
	}

	const query = `
		INSERT INTO participants (event_id, email, name, phone, channels, wishlist)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, email) DO UPDATE
		SET name = EXCLUDED.name, phone = EXCLUDED.phone,
		    channels = EXCLUDED.channels, wishlist = EXCLUDED.wishlist`

	_, err := s.db.ExecContext(ctx, query,
		p.EventID, p.Email, p.Name, p.Phone, pq.Array(p.Channels), p.Wishlist,
	)
	if err != nil {
		return fmt.Errorf("event: upsert participant: %w", err)
	}
	return nil
}

// ListParticipants returns the event's participants in registration order.
func (s *Store) ListParticipants(ctx context.Context, eventID string) ([]Participant, error) {
	const query = `
		SELECT event_id, email, name, phone, channels, wishlist
		FROM participants
		WHERE event_id = $1
		ORDER BY created_at, email`

	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("event: list participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.EventID, &p.Email, &p.Name, &p.Phone, pq.Array(&p.Channels), &p.Wishlist); err != nil {
			return nil, fmt.Errorf("event: scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event: list participants: %w", err)
	}
	return out, nil
}

// RemoveParticipant deletes a participant and, by cascade, every restriction
// naming them.
func (s *Store) RemoveParticipant(ctx context.Context, eventID, email string) error {
	if err := s.requireOpen(ctx, s.db, eventID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE event_id = $1 AND email = $2`, eventID, email)
	if err != nil {
		return fmt.Errorf("event: delete participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotParticipant
	}
	return nil
}

// AddRestriction records that r.Giver must not give to r.Receiver. Both must
// already be participants. Adding an existing restriction is a no-op.
func (s *Store) AddRestriction(ctx context.Context, r *Restriction) error {
	if r.Giver == r.Receiver {
		return ErrSelfRestriction
	}
	if err := s.requireOpen(ctx, s.db, r.EventID); err != nil {
		return err
	}

	const query = `
		INSERT INTO restrictions (event_id, giver, receiver)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, r.EventID, r.Giver, r.Receiver)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pqForeignKeyViolation:
				return ErrNotParticipant
			case pqCheckViolation:
				return ErrSelfRestriction
			}
		}
		return fmt.Errorf("event: insert restriction: %w", err)
	}
	return nil
}

// ListRestrictions returns the event's restrictions keyed by giver.
func (s *Store) ListRestrictions(ctx context.Context, eventID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT giver, receiver FROM restrictions WHERE event_id = $1 ORDER BY giver, receiver`, eventID)
	if err != nil {
		return nil, fmt.Errorf("event: list restrictions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var giver, receiver string
		if err := rows.Scan(&giver, &receiver); err != nil {
			return nil, fmt.Errorf("event: scan restriction: %w", err)
		}
		out[giver] = append(out[giver], receiver)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event: list restrictions: %w", err)
	}
	return out, nil
}

// SaveDraw atomically stores the assignments and marks the event drawn.
// Returns ErrAlreadyDrawn if a concurrent draw got there first.
func (s *Store) SaveDraw(ctx context.Context, eventID string, assignments []Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("event: begin draw: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("event: lock event: %w", err)
	}
	if status == StatusDrawn {
		return ErrAlreadyDrawn
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assignments (event_id, giver, receiver, created_at) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("event: prepare assignment: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, eventID, a.Giver, a.Receiver, now); err != nil {
			return fmt.Errorf("event: insert assignment %s: %w", a.Giver, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET status = $2, drawn_at = $3 WHERE id = $1`, eventID, StatusDrawn, now); err != nil {
		return fmt.Errorf("event: mark drawn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("event: commit draw: %w", err)
	}
	return nil
}

// ResetDraw discards the event's assignments and reopens it.
func (s *Store) ResetDraw(ctx context.Context, eventID string) error {
	if _, err := uuid.Parse(eventID); err != nil {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("event: begin reset: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE events SET status = $2, drawn_at = NULL WHERE id = $1`, eventID, StatusOpen)
	if err != nil {
		return fmt.Errorf("event: reopen: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("event: delete assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("event: commit reset: %w", err)
	}
	return nil
}

// GetAssignment returns the giver's assignment, or ErrNotFound.
func (s *Store) GetAssignment(ctx context.Context, eventID, giver string) (*Assignment, error) {
	const query = `
		SELECT event_id, giver, receiver, created_at
		FROM assignments
		WHERE event_id = $1 AND giver = $2`

	var a Assignment
	err := s.db.QueryRowContext(ctx, query, eventID, giver).Scan(&a.EventID, &a.Giver, &a.Receiver, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("event: get assignment: %w", err)
	}
	return &a, nil
}

// ListAssignments returns every assignment of the event ordered by giver.
func (s *Store) ListAssignments(ctx context.Context, eventID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, giver, receiver, created_at FROM assignments WHERE event_id = $1 ORDER BY giver`, eventID)
	if err != nil {
		return nil, fmt.Errorf("event: list assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.EventID, &a.Giver, &a.Receiver, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("event: scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event: list assignments: %w", err)
	}
	return out, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// requireOpen returns ErrNotFound or ErrAlreadyDrawn unless the event is open.
func (s *Store) requireOpen(ctx context.Context, q querier, eventID string) error {
	if _, err := uuid.Parse(eventID); err != nil {
		return ErrNotFound
	}

	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM events WHERE id = $1`, eventID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("event: get status: %w", err)
	}
	if status != StatusOpen {
		return ErrAlreadyDrawn
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
