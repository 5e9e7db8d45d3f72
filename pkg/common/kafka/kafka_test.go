package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/surgical-cohort/pkg/common/models"
)

func TestMessageKeysByRun(t *testing.T) {
	event := NewEvent("cohort.episode", "cohort-builder", map[string]interface{}{"run_id": "run-1", "record_id": "R1"})
	assert.Equal(t, "run-1", event.Metadata["run_id"])

	message, err := Message(event)
	require.NoError(t, err)
	assert.Equal(t, []byte("run-1"), message.Key)

	decoded, err := DecodeEvent(message)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "cohort.episode", decoded.Type)
	assert.Equal(t, "R1", decoded.Data["record_id"])
}

func TestMessageWithoutRunUsesEventID(t *testing.T) {
	event := NewEvent("cohort.run", "cohort-service", map[string]interface{}{})
	assert.Nil(t, event.Metadata)

	message, err := Message(event)
	require.NoError(t, err)
	assert.Equal(t, []byte(event.ID), message.Key)
}

func TestDecodeEventTypeFromHeader(t *testing.T) {
	event, err := DecodeEvent(kafka.Message{
		Value:   []byte(`{"id":"e1","data":{"visit_kind":"9201"}}`),
		Headers: []kafka.Header{{Key: "event-type", Value: []byte("cohort.build")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "cohort.build", event.Type)

	_, err = DecodeEvent(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}

func TestNextBackoffIsCapped(t *testing.T) {
	d := minFetchBackoff
	var seen []time.Duration
	for i := 0; i < 8; i++ {
		seen = append(seen, d)
		d = nextBackoff(d)
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond,
		1600 * time.Millisecond, 3200 * time.Millisecond, maxFetchBackoff, maxFetchBackoff,
	}, seen)
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConsumeReturnsWhenReaderClosed(t *testing.T) {
	consumer := &Consumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{"127.0.0.1:1"},
		Topic:   "cohort-requests",
	})}
	require.NoError(t, consumer.Close())

	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(context.Background(), func(context.Context, models.Event) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Consume kept running after the reader was closed")
	}
}
