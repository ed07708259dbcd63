package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/preauth/internal/address"
)

// DefaultEventLimit caps Events when the caller passes a non-positive limit.
const DefaultEventLimit = 100

// Event is one entry of the append-only log. Seq is assigned on append.
type Event struct {
	Seq           int64           `json:"seq"`
	ID            string          `json:"id"`
	OpID          string          `json:"op_id"`
	Kind          string          `json:"kind"`
	Address       address.Address `json:"address"`
	Payload       json.RawMessage `json:"payload"`
	UnixTimestamp int64           `json:"unix_timestamp"`
}

// AppendEvent appends e and returns its sequence number. e.Seq is ignored.
func (t *Tx) AppendEvent(e Event) (int64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	res, err := t.q.ExecContext(t.ctx, `
		INSERT INTO events (id, op_id, kind, address, payload, unix_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.OpID, e.Kind, e.Address.Bytes(), string(e.Payload), e.UnixTimestamp)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// Events returns up to limit events with seq > afterSeq in seq order.
func (t *Tx) Events(afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return t.queryEvents(`
		SELECT seq, id, op_id, kind, address, payload, unix_timestamp
		FROM events WHERE seq > ?
		ORDER BY seq ASC LIMIT ?
	`, afterSeq, limit)
}

// EventsFor returns every event recorded against addr in seq order.
func (t *Tx) EventsFor(addr address.Address) ([]Event, error) {
	return t.queryEvents(`
		SELECT seq, id, op_id, kind, address, payload, unix_timestamp
		FROM events WHERE address = ?
		ORDER BY seq ASC
	`, addr.Bytes())
}

func (t *Tx) queryEvents(query string, args ...any) ([]Event, error) {
	rows, err := t.q.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var raw []byte
		var payload string
		if err := rows.Scan(&e.Seq, &e.ID, &e.OpID, &e.Kind, &raw, &payload, &e.UnixTimestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Address, err = address.FromBytes(raw); err != nil {
			return nil, fmt.Errorf("scan event %d: %w", e.Seq, err)
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Events reads the log outside any caller transaction.
func (s *Store) Events(ctx context.Context, afterSeq int64, limit int) ([]Event, error) {
	var events []Event
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		events, err = tx.Events(afterSeq, limit)
		return err
	})
	return events, err
}

// EventsFor reads one address's events outside any caller transaction.
func (s *Store) EventsFor(ctx context.Context, addr address.Address) ([]Event, error) {
	var events []Event
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		events, err = tx.EventsFor(addr)
		return err
	})
	return events, err
}
