// Package events publishes engine notices to RabbitMQ so other services can
// react to payouts, penalties and cycle changes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"savings_circle/internal/domain/notification"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Event is the JSON body published for every notice.
type Event struct {
	CommunityID int64     `json:"community_id"`
	UserID      int64     `json:"user_id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RoutingKey is circle.<kind>, lower case, e.g. circle.payout.
func RoutingKey(kind notification.Kind) string {
	return "circle." + strings.ToLower(string(kind))
}

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher implements notification.Notifier on a durable topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       channel
	exchange string
	clock    func() time.Time
	logger   *logrus.Entry
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewPublisher dials RabbitMQ and declares the exchange.
func NewPublisher(amqpURL, exchange string, logger *logrus.Entry) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *logrus.Entry) *Publisher {
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

func (p *Publisher) declare() error {
	if err := p.ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return nil
}

func (p *Publisher) Notify(ctx context.Context, n notification.Notice) error {
	body, err := json.Marshal(Event{
		CommunityID: n.CommunityID,
		UserID:      n.UserID,
		Kind:        string(n.Kind),
		Message:     n.Message,
		OccurredAt:  p.clock(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    p.clock(),
		Body:         body,
	}
	key := RoutingKey(n.Kind)

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.WithFields(logrus.Fields{"exchange": p.exchange, "routing_key": key}).WithError(err).Warn("Publish failed; reopening channel")
	if reopenErr := p.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

// reopen replaces a broken channel once. Without a connection there is nothing to reopen.
func (p *Publisher) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to reopen rabbitmq channel: %w", err)
	}
	p.ch.Close()
	p.ch = ch
	return p.declare()
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Fallback is used when no broker is configured or it was unreachable at startup.
type Fallback struct {
	Logger *logrus.Entry
}

func (f Fallback) Notify(_ context.Context, n notification.Notice) error {
	if f.Logger != nil {
		f.Logger.WithFields(logrus.Fields{"routing_key": RoutingKey(n.Kind), "community_id": n.CommunityID}).Debug("Event publish skipped")
	}
	return nil
}
