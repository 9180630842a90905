package sync

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/careops/chartsync/internal/platform/auth"
	"github.com/careops/chartsync/internal/record"
	"github.com/careops/chartsync/pkg/pagination"
)

// ResetFunc wipes all engine state. Wired to the engine's logout path.
type ResetFunc func(c echo.Context) error

// Handler exposes the engine to the UI process over the local status API.
type Handler struct {
	orch         *Orchestrator
	queue        *Queue
	connectivity ConnectivitySource
	tokens       auth.TokenSource
	reset        ResetFunc
}

// NewHandler creates a Handler. reset may be nil, disabling POST /reset.
func NewHandler(orch *Orchestrator, queue *Queue, connectivity ConnectivitySource, tokens auth.TokenSource, reset ResetFunc) *Handler {
	return &Handler{
		orch:         orch,
		queue:        queue,
		connectivity: connectivity,
		tokens:       tokens,
		reset:        reset,
	}
}

// RegisterRoutes mounts the engine routes on the supplied Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/status", h.handleStatus)
	g.GET("/queue", h.handleQueue)
	g.POST("/save", h.handleSave)
	g.POST("/drain", h.handleDrain)
	if h.reset != nil {
		g.POST("/reset", h.handleReset)
	}
}

// statusResponse is the engine state the UI renders ("Saved", "Syncing…",
// "Error", plus the not-yet-backed-up badge from queue length).
type statusResponse struct {
	Status          Status    `json:"status"`
	LastError       string    `json:"last_error,omitempty"`
	IsOnline        bool      `json:"is_online"`
	IsAuthenticated bool      `json:"is_authenticated"`
	QueueLength     int       `json:"queue_length"`
	OldestEnqueued  time.Time `json:"oldest_enqueued_at,omitempty"`
}

func (h *Handler) handleStatus(c echo.Context) error {
	info := h.orch.Status()
	qs := h.queue.Status()
	return c.JSON(http.StatusOK, statusResponse{
		Status:          info.Status,
		LastError:       info.LastError,
		IsOnline:        h.connectivity.IsOnline(),
		IsAuthenticated: h.tokens.IsAuthenticated(),
		QueueLength:     qs.Length,
		OldestEnqueued:  qs.Oldest,
	})
}

type queueItemView struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
	HasBinary  bool      `json:"has_binary"`
}

func (h *Handler) handleQueue(c echo.Context) error {
	items := h.queue.ListPending()
	params := pagination.FromContext(c)
	start, end := params.Window(len(items))

	out := make([]queueItemView, 0, end-start)
	for _, item := range items[start:end] {
		out = append(out, queueItemView{
			ID:         item.ID,
			RecordID:   item.RecordID,
			EnqueuedAt: item.EnqueuedAt,
			Attempts:   item.Attempts,
			HasBinary:  len(item.BinaryContent) > 0,
		})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, len(items), params.Limit, params.Offset))
}

func (h *Handler) handleSave(c echo.Context) error {
	var snap record.Snapshot
	if err := c.Bind(&snap); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if snap.RecordID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "record_id is required")
	}

	if err := h.orch.Save(c.Request().Context(), snap); err != nil {
		// The save is neither uploaded nor durably queued.
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, h.orch.Status())
}

func (h *Handler) handleDrain(c echo.Context) error {
	result, err := h.orch.Drain(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrDrainInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		// Auth and transport failures still produced a partial result the
		// UI should render alongside the error.
		return c.JSON(http.StatusBadGateway, map[string]any{
			"result": result,
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) handleReset(c echo.Context) error {
	if err := h.reset(c); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
