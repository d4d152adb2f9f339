package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/samz905/wrrk-pilot/config"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/samz905/wrrk-pilot/internal/queue/streams"
	"github.com/samz905/wrrk-pilot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoBasics(t *testing.T) {
	e := NewEcho(nil)
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })
	e.GET("/plain", func(echo.Context) error { return errors.New("db down") })

	rec := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = do(e, http.MethodGet, "/plain", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"db down"}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMigrateRejectsBadInput(t *testing.T) {
	assert.ErrorContains(t, Migrate("", "", "up", 0), "dsn")
}

// emptyProvider answers every prompt with nothing, so planning always fails.
type emptyProvider struct{}

func (emptyProvider) GenerateWithTokens(context.Context, string, string, map[string]interface{}) (string, int64, int64, error) {
	return "", 10, 0, nil
}

func (emptyProvider) CalculateCost(int64, int64, string) float64 { return 0 }

func runtimeConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Prospecting = config.ProspectingConfig{
		WorkerTimeout:  time.Second,
		RunBudget:      5 * time.Second,
		MinQueryLength: 12,
		MinSearchTerms: 2,
		MaxTargetLeads: 200,
	}
	cfg.Workers.Apify.BaseURL = "http://127.0.0.1:0"
	cfg.Events.StreamPrefix = "pilot:events"
	return cfg
}

func TestRuntimeRecordsFailedRunEverywhere(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := runtimeConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis = config.RedisConfig{Host: mr.Host(), Port: mr.Port()}
	cfg.Events.RedisStreamEnabled = true

	rt, err := NewRuntime(context.Background(), cfg, nil, emptyProvider{})
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Streams)

	_, err = rt.Orchestrator.Run(context.Background(), "AI call notes for agencies", 10)
	var failed *core.RunFailedError
	require.ErrorAs(t, err, &failed)

	history := rt.Hub.History(failed.RunID)
	require.NotEmpty(t, history)
	assert.Equal(t, core.EventPlanningStarted, history[0].Type)
	assert.Equal(t, core.EventRunFailed, history[len(history)-1].Type)

	rec, ok, err := rt.Runs.GetRun(context.Background(), failed.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.StateFailed, rec.Status)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	reg, err := streams.NewDefaultRegistry()
	require.NoError(t, err)
	msgs, err := streams.NewReader(client, reg).Read(context.Background(), rt.Streams.Stream(failed.RunID), "0")
	require.NoError(t, err)
	require.Len(t, msgs, len(history))
	assert.Equal(t, "run_failed", msgs[len(msgs)-1].Envelope.EventType)
}

func TestRuntimeMemoryDefaults(t *testing.T) {
	rt, err := NewRuntime(context.Background(), runtimeConfig(), nil, emptyProvider{})
	require.NoError(t, err)
	assert.Nil(t, rt.Streams)
	assert.Nil(t, rt.Replay)
	assert.NoError(t, rt.Close())
}

func TestBuildRuntimeNeedsProvider(t *testing.T) {
	_, err := BuildRuntime(context.Background(), runtimeConfig(), nil)
	assert.ErrorContains(t, err, "llm provider")
}

// stallingProvider blocks every call until its context ends.
type stallingProvider struct{ called chan struct{} }

func (p stallingProvider) GenerateWithTokens(ctx context.Context, _, _ string, _ map[string]interface{}) (string, int64, int64, error) {
	select {
	case p.called <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", 0, 0, ctx.Err()
}

func (stallingProvider) CalculateCost(int64, int64, string) float64 { return 0 }

func TestRuntimeShutdownStoresInterruptedRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := runtimeConfig()
	cfg.Prospecting.RunBudget = time.Minute
	cfg.Storage.Backend = "redis"
	cfg.Storage.ResultTTL = time.Hour
	cfg.Storage.Redis = config.RedisConfig{Host: mr.Host(), Port: mr.Port()}
	cfg.Events.RedisStreamEnabled = true

	provider := stallingProvider{called: make(chan struct{}, 1)}
	rt, err := NewRuntime(context.Background(), cfg, nil, provider)
	require.NoError(t, err)

	id, err := rt.Orchestrator.StartRun(context.Background(), "AI call notes for agencies", 10)
	require.NoError(t, err)
	<-provider.called

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))
	assert.NoError(t, rt.Close(), "close after shutdown is a no-op")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rec, ok, err := store.NewRedisStore(client, time.Hour).GetRun(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.StateFailed, rec.Status)
	assert.NotEmpty(t, rec.Reason)

	reg, err := streams.NewDefaultRegistry()
	require.NoError(t, err)
	msgs, err := streams.NewReader(client, reg).Read(context.Background(), rt.Streams.Stream(id), "0")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "run_failed", msgs[len(msgs)-1].Envelope.EventType)
}
