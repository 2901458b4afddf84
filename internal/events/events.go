// Package events publishes triage events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opsdesk/triage-console/internal/models"
)

// Event types
const (
	ReportSaved = "report.saved"
	ReportSent  = "report.sent"
)

// Event is the message body put on the queue
type Event struct {
	ID             uuid.UUID             `json:"id"`
	Type           string                `json:"type"`
	ReportID       string                `json:"report_id"`
	ActorID        string                `json:"actor_id"`
	ActorRole      models.Role           `json:"actor_role"`
	Classification models.Classification `json:"classification"`
	SyncStatus     string                `json:"sync_status"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// New builds an event for report r acted on by p
func New(eventType string, r models.Report, p models.Principal) Event {
	return Event{
		ID:             uuid.New(),
		Type:           eventType,
		ReportID:       r.ID,
		ActorID:        p.ID,
		ActorRole:      p.Role,
		Classification: r.Classification(),
		SyncStatus:     r.SyncStatus,
		OccurredAt:     time.Now().UTC(),
	}
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// AMQPPublisher publishes persistent JSON messages to a durable RabbitMQ queue
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

// NewAMQPPublisher connects to the broker and declares the queue
func NewAMQPPublisher(uri, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish sends e. A channel is not safe for concurrent use, so publishes
// are serialized.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID.String(),
			Type:         e.Type,
			Body:         body,
			Timestamp:    e.OccurredAt,
		})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
