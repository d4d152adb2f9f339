package core

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a progress event.
type EventType string

const (
	EventPlanningStarted     EventType = "planning_started"
	EventWorkerStarted       EventType = "worker_started"
	EventWorkerCompleted     EventType = "worker_completed"
	EventCompensationDecided EventType = "compensation_decided"
	EventRunCompleted        EventType = "run_completed"
	EventRunFailed           EventType = "run_failed"
)

// Event is one progress notification. Only the fields relevant to Type are serialized.
type Event struct {
	Type       EventType
	RunID      string
	OccurredAt time.Time
	WorkerID   string
	Round      int
	LeadCount  int
	Actions    []CompensationAction
	Result     *RunResult
	Reason     string
}

// Terminal reports whether the event ends the run's stream.
func (e Event) Terminal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunFailed
}

// Payload is the type-specific body of the event.
func (e Event) Payload() map[string]interface{} {
	p := map[string]interface{}{"run_id": e.RunID}
	switch e.Type {
	case EventWorkerStarted:
		p["worker_id"] = e.WorkerID
		p["round"] = e.Round
	case EventWorkerCompleted:
		p["worker_id"] = e.WorkerID
		p["round"] = e.Round
		p["lead_count"] = e.LeadCount
	case EventCompensationDecided:
		actions := e.Actions
		if actions == nil {
			actions = []CompensationAction{}
		}
		p["round"] = e.Round
		p["actions"] = actions
	case EventRunCompleted:
		p["result"] = e.Result
	case EventRunFailed:
		p["reason"] = e.Reason
	}
	return p
}

// MarshalJSON flattens the payload next to type and timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	p := e.Payload()
	p["type"] = e.Type
	p["occurred_at"] = e.OccurredAt
	return json.Marshal(p)
}

// EventSink receives progress events. Emit may be called from worker goroutines.
type EventSink interface {
	Emit(ctx context.Context, evt Event)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, evt)
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}
