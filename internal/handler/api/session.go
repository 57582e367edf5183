package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"TradeDesk/internal/domain/models"
	"TradeDesk/internal/service/ratelimit"
	"TradeDesk/internal/services/markdown"
	"TradeDesk/internal/usecase"
	xhttp "TradeDesk/pkg/http"
	xlogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// liveMessage is the websocket envelope.
type liveMessage struct {
	Type    string       `json:"type"`
	Payload usecase.View `json:"payload"`
}

// SessionHandler exposes the analysis session over HTTP.
type SessionHandler struct {
	logger   *xlogger.Logger
	session  *usecase.Session
	contexts *usecase.StockContextCache
	renderer *markdown.Renderer
	limiter  *ratelimit.Limiter
	origins  []string
	upgrader websocket.Upgrader
}

// SessionHandlerOption configures a SessionHandler.
type SessionHandlerOption func(*SessionHandler)

// WithAllowedOrigins lists the browser origins allowed on the live websocket
// besides the server's own.
func WithAllowedOrigins(origins ...string) SessionHandlerOption {
	return func(h *SessionHandler) {
		h.origins = origins
	}
}

func NewSessionHandler(
	logger *xlogger.Logger,
	session *usecase.Session,
	contexts *usecase.StockContextCache,
	renderer *markdown.Renderer,
	limiter *ratelimit.Limiter,
	opts ...SessionHandlerOption,
) *SessionHandler {
	h := &SessionHandler{
		logger:   logger.Named("session_api"),
		session:  session,
		contexts: contexts,
		renderer: renderer,
		limiter:  limiter,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts clients that send no Origin (CLI tools), the server's
// own host, and the configured origins. Websocket upgrades bypass CORS.
func (h *SessionHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get(echo.HeaderOrigin)
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, o := range h.origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", xlogger.String("origin", origin))
	return false
}

func (h *SessionHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/session")
	g.POST("", h.Start, RateLimit(h.limiter))
	g.DELETE("", h.Reset)
	g.GET("", h.Snapshot)
	g.PUT("/tab/:tab", h.SelectTab)
	g.PUT("/lang/:lang", h.SetLang)
	g.GET("/report/:tab", h.Report)
	g.GET("/context", h.Context)
	g.GET("/live", h.Live)
	g.POST("/load/:id", h.LoadResult)
	g.GET("/models", h.Models)
	e.GET("/api/history", h.History)
	e.GET("/api/trending", h.Trending)
	e.GET("/healthz", h.Health)
}

// Start only takes JSON bodies so a cross-site form post cannot start a job
// without a CORS preflight.
func (h *SessionHandler) Start(c echo.Context) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), echo.MIMEApplicationJSON) {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError(xhttp.CodeBadRequest, "",
			"request body must be application/json", http.StatusUnsupportedMediaType))
	}
	req := &models.StartRequest{}
	if err := c.Bind(req); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("malformed request body"))
	}
	job, err := h.session.Submit(c.Request().Context(), *req)
	if err != nil {
		if xhttp.CodeOf(err) == "" {
			h.logger.Error("start analysis failed", xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, job)
}

func (h *SessionHandler) Reset(c echo.Context) error {
	h.session.Reset()
	return xhttp.NoContentResponse(c)
}

func (h *SessionHandler) Snapshot(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

func (h *SessionHandler) SelectTab(c echo.Context) error {
	tab, ok := models.ParseReportTab(c.Param("tab"))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("unknown report tab"))
	}
	if err := h.session.SelectTab(tab); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

func (h *SessionHandler) SetLang(c echo.Context) error {
	h.session.SetLang(models.NormalizeLang(c.Param("lang")))
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

// Report returns the sanitized HTML for one report tab.
func (h *SessionHandler) Report(c echo.Context) error {
	tab, ok := models.ParseReportTab(c.Param("tab"))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("unknown report tab"))
	}
	v, lang, err := h.session.Report(tab)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.HTMLResponse(c, h.renderer.RenderReport(tab, v, lang))
}

// Context returns the stock-context snapshot for ?symbol= or the active job's
// symbol. Fetch failures still answer 200 with the error marker.
func (h *SessionHandler) Context(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	if symbol == "" {
		if job := h.session.Snapshot().Job; job != nil {
			symbol = job.Symbol
		}
	}
	res, err := h.contexts.Get(c.Request().Context(), util.NormalizeSymbol(symbol))
	if err != nil {
		if xhttp.HasCode(err, xhttp.CodeValidation) {
			return xhttp.AppErrorResponse(c, err)
		}
		h.logger.Warn("stock context unavailable",
			xlogger.String("symbol", res.Symbol),
			xlogger.Error(err),
		)
	}
	return xhttp.SuccessResponse(c, res)
}

// LoadResult shows a past analysis by id.
func (h *SessionHandler) LoadResult(c echo.Context) error {
	if err := h.session.LoadResult(c.Request().Context(), c.Param("id")); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.session.Snapshot())
}

func (h *SessionHandler) Models(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.session.LoadModels(c.Request().Context()))
}

func (h *SessionHandler) History(c echo.Context) error {
	entries := h.session.History(c.Request().Context())
	if n := util.ParseIntDefault(c.QueryParam("limit"), 0); n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

// Trending passes the backend document through; unavailable means 204.
func (h *SessionHandler) Trending(c echo.Context) error {
	raw, ok := h.session.Trending(c.Request().Context())
	if !ok {
		return xhttp.NoContentResponse(c)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func (h *SessionHandler) Health(c echo.Context) error {
	v := h.session.Snapshot()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":        "ok",
		"backend_ready": v.Ready,
		"job_active":    v.Active(),
	})
}

// Live streams every view change as a websocket text frame.
func (h *SessionHandler) Live(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	views, stop := h.session.Subscribe()
	defer stop()

	// read pump: only control frames are expected, a read error means gone
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read ended", xlogger.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case v := <-views:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(liveMessage{Type: "snapshot", Payload: v}); err != nil {
				h.logger.Debug("websocket write failed", xlogger.Error(err))
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
