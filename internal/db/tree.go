package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// Event is a row of the events table with its children attached.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

// ErrNoRoot means no matching process.started event exists.
var ErrNoRoot = errors.New("no process.started event found")

// LatestRoot finds the newest process.started event whose payload role
// matches. An empty role matches any process.
func LatestRoot(db *sql.DB, role string) (int64, error) {
	query := `SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`
	args := []any{EventProcessStarted}
	if role != "" {
		query = `SELECT id FROM events WHERE event_type = ?
			AND json_extract(payload, '$.role') = ?
			ORDER BY id DESC LIMIT 1`
		args = append(args, role)
	}
	var id int64
	err := db.QueryRow(query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoRoot
	}
	return id, err
}

// RootByInstance finds the process.started event of a bot instance id.
func RootByInstance(db *sql.DB, instanceID string) (int64, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM events WHERE event_type = ?
		 AND json_extract(payload, '$.instance_id') = ?
		 ORDER BY id DESC LIMIT 1`,
		EventProcessStarted, instanceID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("instance %s: %w", instanceID, ErrNoRoot)
	}
	return id, err
}

// Subtree loads rootID and all of its descendants as a tree. Children are
// ordered by id.
func Subtree(db *sql.DB, rootID int64) (*Event, error) {
	rows, err := db.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query subtree %d: %w", rootID, err)
	}
	defer rows.Close()

	byID := map[int64]*Event{}
	var ordered []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		byID[ev.ID] = ev
		ordered = append(ordered, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	root, ok := byID[rootID]
	if !ok {
		return nil, fmt.Errorf("event %d not found", rootID)
	}
	for _, ev := range ordered {
		if ev.ID == rootID || !ev.ParentID.Valid || ev.ParentID.Int64 == ev.ID {
			continue
		}
		if parent, ok := byID[ev.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, ev)
		}
	}
	for _, ev := range ordered {
		sort.Slice(ev.Children, func(i, j int) bool { return ev.Children[i].ID < ev.Children[j].ID })
	}
	return root, nil
}
