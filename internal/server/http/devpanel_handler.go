package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"devconsole/internal/async"
	"devconsole/internal/devpanel/inspect"
	"devconsole/internal/devpanel/panel"
	apperrors "devconsole/internal/errors"
	"devconsole/internal/logging"
	"devconsole/internal/observability"
)

const (
	minStreamInterval = 500 * time.Millisecond
	streamWriteWait   = 10 * time.Second
)

// DevPanelHandler exposes the float panel state and its inspectors.
type DevPanelHandler struct {
	panel          *panel.Panel
	registry       *inspect.Registry
	logger         logging.Logger
	upgrader       websocket.Upgrader
	streamInterval time.Duration
}

// NewDevPanelHandler builds the handler. allowedOrigins gates websocket
// upgrades; "*" allows any origin.
func NewDevPanelHandler(p *panel.Panel, registry *inspect.Registry, allowedOrigins []string, streamInterval time.Duration, logger logging.Logger) *DevPanelHandler {
	if streamInterval < minStreamInterval {
		streamInterval = minStreamInterval
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[strings.TrimSpace(origin)] = struct{}{}
	}
	return &DevPanelHandler{
		panel:          p,
		registry:       registry,
		logger:         logging.OrNop(logger),
		streamInterval: streamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := origins["*"]; ok {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

type inspectorDTO struct {
	Key  string `json:"key"`
	Icon string `json:"icon"`
	Slug string `json:"slug"`
}

type streamFrame struct {
	View  *inspect.View `json:"view,omitempty"`
	Error string        `json:"error,omitempty"`
}

// HandleGetState serves GET /api/devpanel/state.
func (h *DevPanelHandler) HandleGetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.panel.Snapshot())
}

// HandlePutState serves PUT /api/devpanel/state. A size change is applied as
// a resize stop and a position change as a drag stop; both are persisted.
func (h *DevPanelHandler) HandlePutState(c *gin.Context) {
	var update panel.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if update.Tab != nil && !h.hasTab(*update.Tab) {
		c.JSON(http.StatusBadRequest, errorBody("unknown tab "+*update.Tab))
		return
	}
	c.JSON(http.StatusOK, h.panel.Apply(update))
}

func (h *DevPanelHandler) hasTab(key string) bool {
	for _, item := range h.panel.Snapshot().Items {
		if item.Key == key {
			return true
		}
	}
	return false
}

// HandleListInspectors serves GET /api/devpanel/inspectors.
func (h *DevPanelHandler) HandleListInspectors(c *gin.Context) {
	items := h.registry.Items()
	out := make([]inspectorDTO, 0, len(items))
	for _, item := range items {
		out = append(out, inspectorDTO{Key: item.Key, Icon: item.Icon, Slug: inspect.Slug(item.Key)})
	}
	c.JSON(http.StatusOK, gin.H{"inspectors": out})
}

// HandleInspect serves GET /api/devpanel/inspectors/:key. Query parameters
// are passed to inspectors that accept them.
func (h *DevPanelHandler) HandleInspect(c *gin.Context) {
	key, ok := h.registry.Resolve(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("unknown inspector "+c.Param("key")))
		return
	}
	view, err := h.registry.Inspect(c.Request.Context(), key, queryMap(c))
	if err != nil {
		c.JSON(inspectStatus(err), errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, view)
}

// inspectStatus maps an inspector failure to a status: bad parameters are
// the caller's fault, a slow or broken upstream is a gateway failure.
func inspectStatus(err error) int {
	switch {
	case errors.Is(err, inspect.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case apperrors.IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleStream serves GET /api/devpanel/inspectors/:key/stream: a websocket
// that receives a fresh view every interval until the client disconnects.
func (h *DevPanelHandler) HandleStream(c *gin.Context) {
	key, ok := h.registry.Resolve(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("unknown inspector "+c.Param("key")))
		return
	}
	interval := h.streamInterval
	if raw := c.Query("interval"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d >= minStreamInterval {
			interval = d
		}
	}
	query := queryMap(c)
	delete(query, "interval")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("devpanel stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ctx, span := observability.Tracer("devconsole/server/http").Start(ctx, observability.SpanStreamConnect,
		trace.WithAttributes(attribute.String(observability.AttrInspector, key)))
	defer span.End()

	// The read loop only exists to notice the client going away.
	async.Go(h.logger, "devpanel.stream.read", func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.sendFrame(ctx, conn, key, query); err != nil {
			h.logger.Debug("devpanel stream %s closed: %v", key, err)
			return
		}
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func (h *DevPanelHandler) sendFrame(ctx context.Context, conn *websocket.Conn, key string, query map[string]string) error {
	var frame streamFrame
	view, err := h.registry.Inspect(ctx, key, query)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame.Error = err.Error()
	} else {
		frame.View = &view
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(frame)
}

func queryMap(c *gin.Context) map[string]string {
	values := c.Request.URL.Query()
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
