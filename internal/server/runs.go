package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"github.com/samz905/wrrk-pilot/internal/events"
	"github.com/samz905/wrrk-pilot/internal/queue/streams"
	"github.com/samz905/wrrk-pilot/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const heartbeatInterval = 15 * time.Second

var serverTracer trace.Tracer = otel.Tracer("wrrk-pilot/internal/server")

// RunController is the job-control surface the API drives.
type RunController interface {
	StartRun(ctx context.Context, productDescription string, targetLeads int) (string, error)
	Status(ctx context.Context, runID string) (core.RunStatus, error)
	Cancel(ctx context.Context, runID string) error
}

// JobLister lists persisted jobs. Only the Postgres store provides it.
type JobLister interface {
	ListJobs(ctx context.Context, limit int) ([]store.JobSummary, error)
}

// RunsHandler exposes job control and the progress event stream.
type RunsHandler struct {
	Runs RunController
	Hub  *events.Hub
	// Replay serves event history for runs this process no longer holds.
	Replay     *streams.Reader
	StreamName func(runID string) string
	Jobs       JobLister

	logger *zap.Logger
}

func NewRunsHandler(runs RunController, hub *events.Hub, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{Runs: runs, Hub: hub, logger: logger.Named("runs")}
}

// Register mounts the run routes on g (normally /api/runs).
func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.start)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/events", h.stream)
}

type startRunRequest struct {
	ProductDescription string `json:"product_description"`
	TargetLeads        int    `json:"target_leads"`
}

type runResponse struct {
	RunID              string          `json:"run_id"`
	Status             string          `json:"status"`
	State              core.State      `json:"state"`
	ProductDescription string          `json:"product_description,omitempty"`
	TargetLeads        int             `json:"target_leads"`
	Round              int             `json:"round"`
	RunningTotal       int             `json:"running_total"`
	CancelRequested    bool            `json:"cancel_requested,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         *time.Time      `json:"finished_at,omitempty"`
	Result             *core.RunResult `json:"result,omitempty"`
	Reason             string          `json:"reason,omitempty"`
}

// phase collapses the state machine into running, completed or failed.
func phase(s core.State) string {
	switch s {
	case core.StateDone:
		return "completed"
	case core.StateFailed:
		return "failed"
	default:
		return "running"
	}
}

// httpError maps orchestrator errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}

func (h *RunsHandler) start(c echo.Context) error {
	ctx, span := serverTracer.Start(c.Request().Context(), "http.runs.start")
	defer span.End()

	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	span.SetAttributes(attribute.Int("target_leads", req.TargetLeads))
	id, err := h.Runs.StartRun(ctx, req.ProductDescription, req.TargetLeads)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return httpError(err)
	}
	span.SetAttributes(attribute.String("run_id", id))
	h.Hub.Track(id)
	h.logger.Info("run accepted", zap.String("run_id", id), zap.Int("target_leads", req.TargetLeads))
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": id})
}

func (h *RunsHandler) get(c echo.Context) error {
	st, err := h.Runs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, runResponse{
		RunID:              st.RunID,
		Status:             phase(st.State),
		State:              st.State,
		ProductDescription: st.ProductDescription,
		TargetLeads:        st.TargetLeads,
		Round:              st.Round,
		RunningTotal:       st.RunningTotal,
		CancelRequested:    st.CancelRequested,
		StartedAt:          st.StartedAt,
		FinishedAt:         st.FinishedAt,
		Result:             st.Result,
		Reason:             st.Reason,
	})
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.Jobs == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "job listing requires postgres storage")
	}
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 200")
		}
		limit = n
	}
	jobs, err := h.Jobs.ListJobs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []store.JobSummary{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *RunsHandler) cancel(c echo.Context) error {
	id := c.Param("id")
	if err := h.Runs.Cancel(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"run_id": id, "cancel_requested": true})
}

// stream writes the run's events as server-sent events: history first, then live events
// until the terminal one. Runs unknown to the hub are replayed from Redis when available.
func (h *RunsHandler) stream(c echo.Context) error {
	id := c.Param("id")
	history, ch, unsubscribe, ok := h.Hub.Subscribe(id)
	if !ok {
		return h.replay(c, id)
	}
	defer unsubscribe()

	flusher, err := startSSE(c)
	if err != nil {
		return err
	}
	w := c.Response()
	for _, evt := range history {
		if err := writeEvent(w, evt); err != nil {
			return nil
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return nil
			}
			if err := writeEvent(w, evt); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func (h *RunsHandler) replay(c echo.Context, id string) error {
	if h.Replay == nil || h.StreamName == nil {
		return echo.NewHTTPError(http.StatusNotFound, core.ErrRunNotFound.Error())
	}
	msgs, err := h.Replay.Read(c.Request().Context(), h.StreamName(id), "0")
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, core.ErrRunNotFound.Error())
	}
	flusher, err := startSSE(c)
	if err != nil {
		return err
	}
	w := c.Response()
	for _, m := range msgs {
		var body map[string]interface{}
		if err := json.Unmarshal(m.Envelope.Data, &body); err != nil {
			continue
		}
		body["type"] = m.Envelope.EventType
		body["occurred_at"] = m.Envelope.OccurredAt
		data, err := json.Marshal(body)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", m.ID, m.Envelope.EventType, data); err != nil {
			return nil
		}
	}
	flusher.Flush()
	return nil
}

func startSSE(c echo.Context) (http.Flusher, error) {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	return flusher, nil
}

func writeEvent(w http.ResponseWriter, evt core.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}
