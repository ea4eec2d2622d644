package db

import (
	"database/sql"
	"fmt"
)

// Inbox statuses.
const (
	InboxQueued = "queued"
	InboxDone   = "done"
	InboxFailed = "failed"
)

// InboxItem is one received update as recorded in the inbox.
type InboxItem struct {
	ID          int64
	UpdateID    int64
	ChatID      int64
	Kind        string
	Text        string
	MessageDate int64
	Status      string
	Error       string
}

// Enqueue records an update. It reports false when update_id was already
// recorded, which makes redelivered updates a no-op.
func Enqueue(db *sql.DB, updateID, chatID int64, kind, text string, messageDate int64) (bool, error) {
	result, err := db.Exec(
		`INSERT OR IGNORE INTO inbox (update_id, chat_id, kind, text, message_date, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'queued', unixepoch())`,
		updateID, chatID, kind, text, messageDate,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue update %d: %w", updateID, err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// MarkDone marks the update as handled.
func MarkDone(db *sql.DB, updateID int64) error {
	_, err := db.Exec(
		`UPDATE inbox SET status = 'done', error = NULL, updated_at = unixepoch() WHERE update_id = ?`,
		updateID,
	)
	return err
}

// MarkFailed records why handling the update failed.
func MarkFailed(db *sql.DB, updateID int64, errMsg string) error {
	_, err := db.Exec(
		`UPDATE inbox SET status = 'failed', error = ?, updated_at = unixepoch() WHERE update_id = ?`,
		errMsg, updateID,
	)
	return err
}

// GetInbox returns the inbox row for updateID.
func GetInbox(db *sql.DB, updateID int64) (*InboxItem, error) {
	item := &InboxItem{}
	var errMsg sql.NullString
	err := db.QueryRow(
		`SELECT id, update_id, chat_id, kind, text, message_date, status, error FROM inbox WHERE update_id = ?`,
		updateID,
	).Scan(&item.ID, &item.UpdateID, &item.ChatID, &item.Kind, &item.Text, &item.MessageDate, &item.Status, &errMsg)
	if err != nil {
		return nil, err
	}
	item.Error = errMsg.String
	return item, nil
}

// DeriveOffset returns the next Telegram polling offset derived from the inbox table.
// Returns 0 if inbox is empty.
func DeriveOffset(db *sql.DB) (int64, error) {
	var offset int64
	err := db.QueryRow(`SELECT COALESCE(MAX(update_id) + 1, 0) FROM inbox`).Scan(&offset)
	return offset, err
}
