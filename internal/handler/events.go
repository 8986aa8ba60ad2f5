package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"nestoracle/internal/events"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

const streamPingInterval = 30 * time.Second

type EventHandler struct {
	Repo   repository.EventRepository
	Hub    *events.Hub
	Logger *zap.Logger
}

func (h *EventHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/events")
	g.GET("", h.list)
	g.GET("/stream", h.stream)
}

var eventOrder = map[string]string{
	"id":         "id",
	"created_at": "created_at",
}

// @Summary List protocol events
// @Tags events
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param component query string false "oracle|voting|policy"
// @Param kind query string false "event kind"
// @Param subject query string false "assertion or request id"
// @Param since query string false "RFC3339 lower bound"
// @Param order_by query string false "id|created_at"
// @Param asc query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/v1/events [get]
func (h *EventHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOracleEventsParams{
		Limit:     limit,
		Offset:    offset,
		Component: strQueryPtr(c, "component"),
		Kind:      strQueryPtr(c, "kind"),
		Subject:   strQueryPtr(c, "subject"),
		Since:     timeQueryPtr(c, "since"),
		OrderBy:   parseOrder(c.Query("order_by"), eventOrder),
		Asc:       boolQueryPtr(c, "asc"),
	}
	items, err := h.Repo.ListOracleEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOracleEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]eventDTO, 0, len(items))
	for _, ev := range items {
		out = append(out, toEventDTO(ev))
	}
	Ok(c, out, paginationMeta(limit, offset, total))
}

type streamFilter struct {
	component string
	kind      string
	subject   string
}

func (f streamFilter) match(ev models.OracleEvent) bool {
	return (f.component == "" || f.component == ev.Component) &&
		(f.kind == "" || f.kind == ev.Kind) &&
		(f.subject == "" || f.subject == ev.Subject)
}

// @Summary Live protocol events over websocket
// @Description Events committed after the connection opens. Slow readers lose events; use the list endpoint to catch up.
// @Tags events
// @Param component query string false "oracle|voting|policy"
// @Param kind query string false "event kind"
// @Param subject query string false "assertion or request id"
// @Router /api/v1/events/stream [get]
func (h *EventHandler) stream(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusServiceUnavailable, "event stream unavailable", nil)
		return
	}
	filter := streamFilter{
		component: strings.TrimSpace(c.Query("component")),
		kind:      strings.TrimSpace(c.Query("kind")),
		subject:   strings.TrimSpace(c.Query("subject")),
	}
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logWarn("event stream accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch, cancel := h.Hub.Subscribe(64)
	defer cancel()

	// The stream is write-only; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := ping(ctx, conn); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "hub closed")
				return
			}
			if !filter.match(ev) {
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, toEventDTO(ev))
			wcancel()
			if err != nil {
				h.logWarn("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func ping(ctx context.Context, conn *websocket.Conn) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Ping(pctx)
}

func (h *EventHandler) logWarn(msg string, fields ...zap.Field) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(msg, fields...)
}
