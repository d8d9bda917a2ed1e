package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// Options selects the repository backends
type Options struct {
	DBPath          string // SQLite file for history and chat configuration
	RedisAddr       string // empty uses the in-memory keyed store
	NATSURL         string // empty disables event publishing
	AntispamURL     string // empty disables spam hints
	AntispamTimeout time.Duration
	OpenAI          OpenAIConfig
}

// Repositories contains all repositories
type Repositories struct {
	History     repo.HistoryRepo
	ChatConfig  repo.ChatConfigRepo
	KV          repo.KVStore
	BufferState repo.BufferStateRepo
	Publisher   repo.EventPublisher
	Filter      repo.SpamFilterRepo
	Model       repo.ModelRepo
	Telegram    *TelegramRepo

	redis *redis.Client
	nats  *nats.Conn
}

// NewRepositories creates all repositories
func NewRepositories(ctx context.Context, opts Options, bot *tgbotapi.BotAPI, log *zap.Logger) (*Repositories, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Repositories{}

	var err error
	if r.History, err = NewHistoryRepo(opts.DBPath); err != nil {
		return nil, err
	}
	if r.ChatConfig, err = NewChatConfigRepo(opts.DBPath); err != nil {
		r.Close()
		return nil, err
	}

	if opts.RedisAddr != "" {
		if r.redis, err = NewRedisClient(ctx, opts.RedisAddr); err != nil {
			r.Close()
			return nil, err
		}
		r.KV = NewRedisKV(r.redis)
	} else {
		log.Warn("REDIS_ADDR not set, reviews and buffer live in memory only")
		r.KV = NewMemoryKV()
	}
	r.BufferState = NewBufferStateRepo(r.KV)

	if opts.NATSURL != "" {
		if r.nats, err = NewNATSConn(opts.NATSURL, log); err != nil {
			r.Close()
			return nil, err
		}
		r.Publisher = NewNATSPublisher(r.nats)
	} else {
		r.Publisher = NewNoopPublisher()
	}

	r.Filter = NewAntispamRepo(opts.AntispamURL, opts.AntispamTimeout)
	r.Model = NewOpenAIRepo(opts.OpenAI)
	if bot != nil {
		r.Telegram = NewTelegramRepo(bot, log)
	}
	return r, nil
}

// Close releases every open connection
func (r *Repositories) Close() error {
	var errs []error
	if r.History != nil {
		errs = append(errs, r.History.Close())
	}
	if r.ChatConfig != nil {
		errs = append(errs, r.ChatConfig.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.nats != nil {
		errs = append(errs, r.nats.Drain())
	}
	return errors.Join(errs...)
}

// openSQLite opens dbPath, creating its directory
func openSQLite(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY between the two repositories
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}
	return db, nil
}
