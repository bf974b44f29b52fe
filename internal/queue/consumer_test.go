package queue

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "go.uber.org/zap/zaptest/observer"
)

func TestDecodeEvent(t *testing.T) {
    ev, err := DecodeEvent([]byte(`{"type":"booking.cancelled","booking_id":"b-1","refund_cents":1500,"refund_tier":"PARTIAL"}`))
    require.NoError(t, err)
    assert.Equal(t, TypeBookingCancelled, ev.Type)
    assert.Equal(t, "b-1", ev.BookingID)
    assert.EqualValues(t, 1500, ev.RefundCents)

    _, err = DecodeEvent([]byte(`{"booking_id":"b-1"}`))
    assert.Error(t, err)
    _, err = DecodeEvent([]byte(`not json`))
    assert.Error(t, err)
}

func TestAuditConsumerLogsEvents(t *testing.T) {
    core, logs := observer.New(zapcore.InfoLevel)
    c := NewAuditConsumer("amqp://unused", zap.New(core))

    at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
    require.NoError(t, c.handle([]byte(`{"type":"booking.confirmed","occurred_at":"2026-03-01T09:00:00Z",`+
        `"booking_id":"b-1","customer_id":"alice","resource_id":"FL-1","unit_numbers":["1A","1B"],"amount_cents":40000}`)))
    require.NoError(t, c.handle([]byte(`{"type":"inventory.repaired","resource_id":"FL-1","stored_available":7,"actual_available":2}`)))
    assert.Error(t, c.handle([]byte(`{}`)))

    entries := logs.AllUntimed()
    require.Len(t, entries, 2)

    confirmed := entries[0].ContextMap()
    assert.Equal(t, TypeBookingConfirmed, entries[0].Message)
    occurred, ok := confirmed["occurred_at"].(time.Time)
    require.True(t, ok)
    assert.True(t, at.Equal(occurred))
    assert.Equal(t, "b-1", confirmed["booking_id"])
    assert.EqualValues(t, 40000, confirmed["amount_cents"])
    assert.NotContains(t, confirmed, "refund_tier")

    repaired := entries[1].ContextMap()
    assert.EqualValues(t, 7, repaired["stored_available"])
    assert.EqualValues(t, 2, repaired["actual_available"])
    assert.NotContains(t, repaired, "booking_id")
}
