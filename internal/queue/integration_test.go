//go:build integration

package queue

import (
    "context"
    "testing"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "github.com/testcontainers/testcontainers-go"
    "github.com/testcontainers/testcontainers-go/wait"
    "go.uber.org/zap/zaptest"
)

func startRabbitMQ(t *testing.T) string {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
    t.Cleanup(cancel)

    container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
        ContainerRequest: testcontainers.ContainerRequest{
            Image:        "rabbitmq:3.13-alpine",
            ExposedPorts: []string{"5672/tcp"},
            WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
        },
        Started: true,
    })
    require.NoError(t, err)
    t.Cleanup(func() {
        cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
        defer cleanupCancel()
        _ = container.Terminate(cleanupCtx)
    })

    host, err := container.Host(ctx)
    require.NoError(t, err)
    port, err := container.MappedPort(ctx, "5672")
    require.NoError(t, err)
    return "amqp://guest:guest@" + host + ":" + port.Port() + "/"
}

func TestPublisherRoutesToAuditQueue(t *testing.T) {
    url := startRabbitMQ(t)

    pub, err := NewPublisher(url, zaptest.NewLogger(t))
    require.NoError(t, err)
    t.Cleanup(func() { _ = pub.Close() })

    ctx := context.Background()
    require.NoError(t, pub.Publish(ctx, Event{Type: TypeBookingConfirmed, BookingID: "b-1", ResourceID: "FL-1"}))
    require.NoError(t, pub.Publish(ctx, Event{Type: TypeInventoryRepaired, ResourceID: "FL-1", StoredAvailable: 4}))

    conn, err := amqp.Dial(url)
    require.NoError(t, err)
    t.Cleanup(func() { _ = conn.Close() })
    ch, err := conn.Channel()
    require.NoError(t, err)
    msgs, err := ch.Consume(AuditQueue, "", true, false, false, false, nil)
    require.NoError(t, err)

    var got []Event
    timeout := time.After(10 * time.Second)
    for len(got) < 2 {
        select {
        case d := <-msgs:
            assert.Equal(t, "application/json", d.ContentType)
            assert.NotEmpty(t, d.MessageId)
            ev, err := DecodeEvent(d.Body)
            require.NoError(t, err)
            assert.Equal(t, d.RoutingKey, ev.Type)
            got = append(got, ev)
        case <-timeout:
            t.Fatalf("received %d of 2 events", len(got))
        }
    }
    assert.Equal(t, "b-1", got[0].BookingID)
    assert.Equal(t, 4, got[1].StoredAvailable)
}

func TestAuditConsumerStopsWithContext(t *testing.T) {
    url := startRabbitMQ(t)
    c := NewAuditConsumer(url, zaptest.NewLogger(t))

    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- c.Run(ctx) }()

    pub, err := NewPublisher(url, zaptest.NewLogger(t))
    require.NoError(t, err)
    require.NoError(t, pub.Publish(ctx, Event{Type: TypeBookingCancelled, BookingID: "b-2"}))
    require.NoError(t, pub.Close())

    time.Sleep(500 * time.Millisecond)
    cancel()
    select {
    case err := <-done:
        assert.ErrorIs(t, err, context.Canceled)
    case <-time.After(10 * time.Second):
        t.Fatal("consumer did not stop")
    }
}
