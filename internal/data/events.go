package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// SubjectPrefix is the root of every published subject: <prefix>.<kind>.<chat_id>
const SubjectPrefix = "chatwarden"

// NewNATSConn connects to NATS, reconnecting forever
func NewNATSConn(url string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("nats")

	nc, err := nats.Connect(url,
		nats.Name("chatwarden"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("Disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("Connected", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// natsPublisher publishes events as JSON
type natsPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher creates an event publisher on conn
func NewNATSPublisher(conn *nats.Conn) repo.EventPublisher {
	return &natsPublisher{conn: conn}
}

// Subject returns the subject an event is published on
func Subject(event domain.Event) string {
	return fmt.Sprintf("%s.%s.%d", SubjectPrefix, event.Kind, event.ChatID)
}

func (p *natsPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(Subject(event), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	return nil
}

// noopPublisher drops events when no bus is configured
type noopPublisher struct{}

// NewNoopPublisher creates a publisher that discards everything
func NewNoopPublisher() repo.EventPublisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(ctx context.Context, event domain.Event) error {
	return nil
}
