package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// historyRepo implements the conversation log on SQLite
type historyRepo struct {
	db *sql.DB
}

// NewHistoryRepo creates the history repository at dbPath
func NewHistoryRepo(dbPath string) (repo.HistoryRepo, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	// Entries are stored as JSON; indexed columns are duplicated for queries
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS history_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL,
			sender TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history_entries table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_chat ON history_entries(chat_id, id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_created ON history_entries(created_at)`)

	return &historyRepo{db: db}, nil
}

// Append writes entries in order within one transaction
func (r *historyRepo) Append(ctx context.Context, entries ...domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_entries (chat_id, message_id, sender, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode history entry: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ChatID, e.Message.MessageID, string(e.Sender), string(payload), e.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest limit entries of a chat, oldest first
func (r *historyRepo) Recent(ctx context.Context, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload FROM history_entries
		WHERE chat_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("failed to decode history entry %d: %w", id, err)
		}
		e.ID = id
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Prune deletes entries older than before
func (r *historyRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM history_entries WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (r *historyRepo) Close() error {
	return r.db.Close()
}
