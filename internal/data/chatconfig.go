package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// chatConfigRepo implements the chat configuration store on SQLite
type chatConfigRepo struct {
	db *sql.DB
}

// NewChatConfigRepo creates the chat configuration repository at dbPath
func NewChatConfigRepo(dbPath string) (repo.ChatConfigRepo, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_configs (
			chat_id INTEGER PRIMARY KEY,
			api_key TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chat_configs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_admins (
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (chat_id, user_id)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chat_admins table: %w", err)
	}

	return &chatConfigRepo{db: db}, nil
}

// GetChatConfig returns nil for chats that were never configured
func (r *chatConfigRepo) GetChatConfig(ctx context.Context, chatID int64) (*domain.ChatConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT chat_id, api_key, enabled FROM chat_configs WHERE chat_id = ?
	`, chatID)

	var cfg domain.ChatConfig
	var enabled int
	err := row.Scan(&cfg.ChatID, &cfg.APIKey, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat config: %w", err)
	}
	cfg.Enabled = enabled != 0
	return &cfg, nil
}

// SaveChatConfig creates or replaces a chat's configuration
func (r *chatConfigRepo) SaveChatConfig(ctx context.Context, cfg *domain.ChatConfig) error {
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_configs (chat_id, api_key, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			api_key = excluded.api_key,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, cfg.ChatID, cfg.APIKey, enabled, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save chat config: %w", err)
	}
	return nil
}

// GetAdmins returns the chat's admin ids in ascending order
func (r *chatConfigRepo) GetAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM chat_admins WHERE chat_id = ? ORDER BY user_id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	var admins []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, id)
	}
	return admins, rows.Err()
}

// IsAdmin checks whether userID is an admin of chatID
func (r *chatConfigRepo) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_admins WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check admin: %w", err)
	}
	return count > 0, nil
}

// SetAdmins replaces the chat's admin list
func (r *chatConfigRepo) SetAdmins(ctx context.Context, chatID int64, userIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_admins WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to clear admins: %w", err)
	}
	now := time.Now().Unix()
	for _, id := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_admins (chat_id, user_id, created_at) VALUES (?, ?, ?)
		`, chatID, id, now); err != nil {
			return fmt.Errorf("failed to insert admin: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (r *chatConfigRepo) Close() error {
	return r.db.Close()
}
