package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan core.Event) []core.EventType {
	var out []core.EventType
	for evt := range ch {
		out = append(out, evt.Type)
	}
	return out
}

func TestHubReplaysHistoryAndStreams(t *testing.T) {
	hub := NewHub(0, nil)
	ctx := context.Background()
	hub.Emit(ctx, core.Event{Type: core.EventPlanningStarted, RunID: "r1"})
	hub.Emit(ctx, core.Event{Type: core.EventWorkerStarted, RunID: "r1", WorkerID: "reddit"})

	history, ch, cancel, ok := hub.Subscribe("r1")
	require.True(t, ok)
	defer cancel()
	assert.Len(t, history, 2)

	hub.Emit(ctx, core.Event{Type: core.EventWorkerCompleted, RunID: "r1", WorkerID: "reddit", LeadCount: 2})
	hub.Emit(ctx, core.Event{Type: core.EventRunCompleted, RunID: "r1", Result: &core.RunResult{}})
	hub.Emit(ctx, core.Event{Type: core.EventWorkerStarted, RunID: "r1"})

	assert.Equal(t, []core.EventType{core.EventWorkerCompleted, core.EventRunCompleted}, drain(ch))
	assert.Len(t, hub.History("r1"), 4, "events after the terminal one are ignored")
}

func TestHubSubscribeAfterTerminal(t *testing.T) {
	hub := NewHub(0, nil)
	hub.Emit(context.Background(), core.Event{Type: core.EventRunFailed, RunID: "r2", Reason: "planning failed"})

	history, ch, _, ok := hub.Subscribe("r2")
	require.True(t, ok)
	require.Len(t, history, 1)
	assert.Empty(t, drain(ch))
}

func TestHubUnknownRun(t *testing.T) {
	hub := NewHub(0, nil)
	_, _, cancel, ok := hub.Subscribe("missing")
	assert.False(t, ok)
	cancel()

	hub.Track("tracked")
	history, _, cancel, ok := hub.Subscribe("tracked")
	assert.True(t, ok)
	assert.Empty(t, history)
	cancel()
	cancel()
}

func TestHubCancelAndForget(t *testing.T) {
	hub := NewHub(0, nil)
	hub.Track("r3")
	_, ch1, cancel1, _ := hub.Subscribe("r3")
	_, ch2, _, _ := hub.Subscribe("r3")

	cancel1()
	_, open := <-ch1
	assert.False(t, open)

	hub.Forget("r3")
	_, open = <-ch2
	assert.False(t, open)
	assert.Nil(t, hub.History("r3"))
}

func TestHubRetentionForgetsFinishedRuns(t *testing.T) {
	hub := NewHub(20*time.Millisecond, nil)
	hub.Emit(context.Background(), core.Event{Type: core.EventRunCompleted, RunID: "r4", Result: &core.RunResult{}})
	require.NotNil(t, hub.History("r4"))
	assert.Eventually(t, func() bool { return hub.History("r4") == nil }, time.Second, 5*time.Millisecond)
}

func TestHubConcurrentEmit(t *testing.T) {
	hub := NewHub(0, nil)
	hub.Track("r5")
	_, ch, cancel, _ := hub.Subscribe("r5")
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				hub.Emit(context.Background(), core.Event{Type: core.EventWorkerCompleted, RunID: "r5"})
			}
		}()
	}
	wg.Wait()
	hub.Emit(context.Background(), core.Event{Type: core.EventRunCompleted, RunID: "r5", Result: &core.RunResult{}})
	assert.Len(t, drain(ch), 31)
}
