// Package events keeps per-run progress events in memory and fans them out to subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

// Hub is a core.EventSink that records each run's events and replays them to late
// subscribers. A run's history is dropped retention after its terminal event.
type Hub struct {
	mu        sync.Mutex
	runs      map[string]*runLog
	retention time.Duration
	logger    *zap.Logger
}

type runLog struct {
	events []core.Event
	subs   map[int]chan core.Event
	nextID int
	closed bool
}

// NewHub creates a hub. retention <= 0 keeps finished runs until Forget is called.
func NewHub(retention time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{runs: map[string]*runLog{}, retention: retention, logger: logger.Named("events")}
}

// Emit records evt and delivers it to current subscribers. A subscriber that has
// fallen subscriberBuffer events behind is disconnected rather than blocking the run.
func (h *Hub) Emit(_ context.Context, evt core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rl := h.runs[evt.RunID]
	if rl == nil {
		rl = &runLog{subs: map[int]chan core.Event{}}
		h.runs[evt.RunID] = rl
	}
	if rl.closed {
		return
	}
	rl.events = append(rl.events, evt)
	for id, ch := range rl.subs {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("dropping slow subscriber", zap.String("run_id", evt.RunID))
			close(ch)
			delete(rl.subs, id)
		}
	}
	if evt.Terminal() {
		rl.closed = true
		for id, ch := range rl.subs {
			close(ch)
			delete(rl.subs, id)
		}
		if h.retention > 0 {
			runID := evt.RunID
			time.AfterFunc(h.retention, func() { h.Forget(runID) })
		}
	}
}

// Subscribe returns the run's history so far and a channel of later events. The channel
// is closed after the terminal event or when cancel is called. ok is false for unknown runs.
func (h *Hub) Subscribe(runID string) (history []core.Event, ch <-chan core.Event, cancel func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rl := h.runs[runID]
	if rl == nil {
		return nil, nil, func() {}, false
	}
	history = append([]core.Event(nil), rl.events...)
	c := make(chan core.Event, subscriberBuffer)
	if rl.closed {
		close(c)
		return history, c, func() {}, true
	}
	id := rl.nextID
	rl.nextID++
	rl.subs[id] = c
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := rl.subs[id]; ok {
				close(sub)
				delete(rl.subs, id)
			}
		})
	}
	return history, c, cancel, true
}

// Track registers a run before its first event so subscribers can attach immediately.
func (h *Hub) Track(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[runID]; !ok {
		h.runs[runID] = &runLog{subs: map[int]chan core.Event{}}
	}
}

// History returns a copy of the events recorded for a run.
func (h *Hub) History(runID string) []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rl := h.runs[runID]; rl != nil {
		return append([]core.Event(nil), rl.events...)
	}
	return nil
}

// Forget drops a run's history and disconnects its subscribers.
func (h *Hub) Forget(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rl := h.runs[runID]
	if rl == nil {
		return
	}
	for id, ch := range rl.subs {
		close(ch)
		delete(rl.subs, id)
	}
	delete(h.runs, runID)
}
