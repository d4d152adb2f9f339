package streams

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDefaultRegistryValidatesEventPayloads(t *testing.T) {
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)

	require.NoError(t, reg.Validate("worker_completed", PayloadVersion,
		[]byte(`{"run_id":"r1","worker_id":"reddit","round":0,"lead_count":4}`)))
	require.NoError(t, reg.Validate("compensation_decided", PayloadVersion,
		[]byte(`{"run_id":"r1","round":1,"actions":[]}`)))

	err = reg.Validate("worker_completed", PayloadVersion, []byte(`{"run_id":"r1","worker_id":"reddit","round":0}`))
	assert.ErrorContains(t, err, "lead_count")
	err = reg.Validate("compensation_decided", PayloadVersion,
		[]byte(`{"run_id":"r1","round":1,"actions":[{"target_worker":"a","adjusted_parameters":{}},{"target_worker":"b","adjusted_parameters":{}},{"target_worker":"c","adjusted_parameters":{}}]}`))
	assert.Error(t, err, "more than two actions")

	assert.ErrorContains(t, reg.Validate("unknown", PayloadVersion, []byte(`{}`)), "no schema registered")
	assert.ErrorContains(t, reg.Validate("run_failed", "v9", []byte(`{}`)), "version")
}

func TestPublishAndRead(t *testing.T) {
	client := newTestClient(t)
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	pub := NewPublisher(client, reg)
	ctx := context.Background()

	id, err := pub.PublishRaw(ctx, "pilot:events:r1", "r1", "run_failed", map[string]string{"run_id": "r1", "reason": "planning failed"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = pub.PublishRaw(ctx, "pilot:events:r1", "r1", "run_failed", map[string]string{"run_id": "r1"})
	require.Error(t, err)

	msgs, err := NewReader(client, reg).Read(ctx, "pilot:events:r1", "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "run_failed", msgs[0].Envelope.EventType)
	assert.Equal(t, "r1", msgs[0].Envelope.RunID)
	assert.NotEmpty(t, msgs[0].Envelope.EventID)

	more, err := NewReader(client, reg).Read(ctx, "pilot:events:r1", id)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestReaderSkipsForeignEntries(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "s", Values: map[string]interface{}{"other": "x"}}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "s", Values: map[string]interface{}{"envelope": "not json"}}).Err())

	msgs, err := NewReader(client, nil).Read(ctx, "s", "0")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRunEventSinkPublishesPerRunStream(t *testing.T) {
	client := newTestClient(t)
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	sink := NewRunEventSink(NewPublisher(client, reg), config.EventsConfig{StreamPrefix: "test:events", MaxLen: 100}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.Emit(ctx, core.Event{Type: core.EventWorkerStarted, RunID: "r7", WorkerID: "techcrunch", Round: 1, OccurredAt: at})
	sink.Emit(ctx, core.Event{Type: core.EventCompensationDecided, RunID: "r7", Round: 2, OccurredAt: at})

	assert.Equal(t, "test:events:r7", sink.Stream("r7"))
	msgs, err := NewReader(client, reg).Read(context.Background(), sink.Stream("r7"), "0")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "publishing survives a cancelled run context")

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Envelope.Data, &data))
	assert.Equal(t, "techcrunch", data["worker_id"])
	assert.Equal(t, float64(1), data["round"])
	assert.True(t, msgs[0].Envelope.OccurredAt.Equal(at))
	assert.Equal(t, "compensation_decided", msgs[1].Envelope.EventType)
}

func TestEnvelopeValidateBasic(t *testing.T) {
	env := Envelope{EventID: "e", EventType: "run_failed", RunID: "r", PayloadVersion: "v1"}
	assert.ErrorContains(t, env.ValidateBasic(), "data")
	env.Data = json.RawMessage(`{}`)
	require.NoError(t, env.ValidateBasic())
	assert.False(t, env.OccurredAt.IsZero())

	_, err := UnmarshalEnvelope([]byte(`{"event_id":"e","event_type":"x","payload_version":"v1","data":{}}`))
	assert.ErrorContains(t, err, "run_id")
}
