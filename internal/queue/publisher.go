package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"
    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

const (
    // EventsExchange is the durable topic exchange every event is sent to
    // with its Type as routing key.
    EventsExchange = "travel.events"
    // AuditQueue receives a copy of every event.
    AuditQueue = "travel.audit"

    publishTimeout = 3 * time.Second
)

// declareTopology makes sure the exchange and the audit queue exist and are
// bound.  Declarations are idempotent, so publisher and consumer both run it.
func declareTopology(ch *amqp.Channel) error {
    if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
        return fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
    }
    if _, err := ch.QueueDeclare(AuditQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("declare queue %s: %w", AuditQueue, err)
    }
    if err := ch.QueueBind(AuditQueue, "#", EventsExchange, false, nil); err != nil {
        return fmt.Errorf("bind queue %s: %w", AuditQueue, err)
    }
    return nil
}

// Publisher sends events to RabbitMQ over one long-lived channel.  A closed
// connection is redialled on the next Publish.  It is safe for concurrent
// use.
type Publisher struct {
    url string
    log *zap.Logger

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher dials the broker and declares the topology.
func NewPublisher(url string, log *zap.Logger) (*Publisher, error) {
    if log == nil {
        log = zap.NewNop()
    }
    p := &Publisher{url: url, log: log}
    p.mu.Lock()
    defer p.mu.Unlock()
    if err := p.connectLocked(); err != nil {
        return nil, err
    }
    return p, nil
}

func (p *Publisher) connectLocked() error {
    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
    if err != nil {
        return fmt.Errorf("dial broker: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return fmt.Errorf("open channel: %w", err)
    }
    if err := declareTopology(ch); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return err
    }
    p.conn, p.ch = conn, ch
    return nil
}

// Publish marshals ev as JSON and sends it persistently with ev.Type as
// routing key.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
    if ev.OccurredAt.IsZero() {
        ev.OccurredAt = time.Now().UTC()
    }
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal %s: %w", ev.Type, err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
        p.closeLocked()
        if err := p.connectLocked(); err != nil {
            return err
        }
        p.log.Info("event publisher reconnected")
    }

    pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
    defer cancel()
    return p.ch.PublishWithContext(pubCtx, EventsExchange, ev.Type, false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    uuid.NewString(),
        Timestamp:    ev.OccurredAt,
        Type:         ev.Type,
        Body:         body,
    })
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.closeLocked()
    return nil
}

func (p *Publisher) closeLocked() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}
