package api

import (
	"TradeDesk/internal/usecase"
	xhttp "TradeDesk/pkg/http"
	xlogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/util"

	"github.com/labstack/echo/v4"
)

type WatchlistHandler struct {
	logger    *xlogger.Logger
	watchlist *usecase.Watchlist
}

func NewWatchlistHandler(logger *xlogger.Logger, w *usecase.Watchlist) *WatchlistHandler {
	return &WatchlistHandler{logger: logger.Named("watchlist_api"), watchlist: w}
}

func (h *WatchlistHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/watchlist")
	g.GET("", h.List)
	g.PUT("/:symbol", h.Toggle)
	g.DELETE("", h.Clear)
}

func (h *WatchlistHandler) List(c echo.Context) error {
	symbols := h.watchlist.Symbols()
	return xhttp.ListResponse(c, symbols, int64(len(symbols)))
}

func (h *WatchlistHandler) Toggle(c echo.Context) error {
	symbol := util.NormalizeSymbol(c.Param("symbol"))
	if !util.ValidTicker(symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NewValidationError("symbol", "must be 1-5 uppercase letters"))
	}
	watched, err := h.watchlist.Toggle(c.Request().Context(), symbol)
	if err != nil {
		h.logger.Error("watchlist toggle failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not save watchlist").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":  symbol,
		"watched": watched,
		"symbols": h.watchlist.Symbols(),
	})
}

func (h *WatchlistHandler) Clear(c echo.Context) error {
	if err := h.watchlist.Clear(c.Request().Context()); err != nil {
		h.logger.Error("watchlist clear failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not clear watchlist").WithError(err))
	}
	return xhttp.NoContentResponse(c)
}
