package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// AuditConsumer drains the audit queue and writes one structured log line
// per event.  It keeps reconnecting with backoff until its context ends.
type AuditConsumer struct {
    url string
    log *zap.Logger
}

// NewAuditConsumer returns a consumer for the broker at url.  Lines are
// written to log, which callers usually point at a dedicated sink.
func NewAuditConsumer(url string, log *zap.Logger) *AuditConsumer {
    if log == nil {
        log = zap.NewNop()
    }
    return &AuditConsumer{url: url, log: log}
}

// Run blocks until ctx is cancelled.
func (c *AuditConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn("audit consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consume(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.Warn("audit consumer: loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn("audit consumer: set QoS failed", zap.Error(err))
    }
    if err := declareTopology(ch); err != nil {
        return err
    }
    msgs, err := ch.Consume(AuditQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handle(d.Body); err != nil {
                c.log.Warn("audit consumer: rejecting message", zap.String("message_id", d.MessageId), zap.Error(err))
                _ = d.Nack(false, false) // do not requeue poison messages
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// DecodeEvent parses a message body and checks it names an event type.
func DecodeEvent(body []byte) (Event, error) {
    var ev Event
    if err := json.Unmarshal(body, &ev); err != nil {
        return Event{}, fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return Event{}, errors.New("event without type")
    }
    return ev, nil
}

func (c *AuditConsumer) handle(body []byte) error {
    ev, err := DecodeEvent(body)
    if err != nil {
        return err
    }
    c.log.Info(ev.Type, EventFields(ev)...)
    return nil
}

// EventFields renders the populated parts of ev as zap fields.
func EventFields(ev Event) []zap.Field {
    fields := []zap.Field{zap.Time("occurred_at", ev.OccurredAt)}
    str := func(k, v string) {
        if v != "" {
            fields = append(fields, zap.String(k, v))
        }
    }
    str("booking_id", ev.BookingID)
    str("customer_id", ev.CustomerID)
    str("resource_id", ev.ResourceID)
    if len(ev.UnitNumbers) > 0 {
        fields = append(fields, zap.Strings("units", ev.UnitNumbers))
    }
    if ev.AmountCents != 0 {
        fields = append(fields, zap.Int64("amount_cents", ev.AmountCents))
    }
    if ev.RefundTier != "" {
        fields = append(fields, zap.String("refund_tier", ev.RefundTier), zap.Int64("refund_cents", ev.RefundCents))
    }
    str("cascaded_by", ev.CascadedBy)
    if ev.Type == TypeInventoryRepaired {
        fields = append(fields, zap.Int("stored_available", ev.StoredAvailable), zap.Int("actual_available", ev.ActualAvailable))
    }
    return fields
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
