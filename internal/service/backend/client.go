package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"
)

// Client talks to the analysis backend. The language preference is sent as
// Accept-Language on every request and may change between requests.
type Client struct {
	http *xhttp.Client
	lang atomic.Value // models.Lang
	log  *applogger.Logger
}

var (
	_ drepo.AnalysisAPI        = (*Client)(nil)
	_ drepo.StockContextSource = (*Client)(nil)
	_ drepo.Catalog            = (*Client)(nil)
)

// New creates a backend client over hc.
func New(hc *xhttp.Client, lang models.Lang, log *applogger.Logger) *Client {
	c := &Client{http: hc, log: log.Named("backend")}
	c.lang.Store(models.NormalizeLang(string(lang)))
	return c
}

// Lang returns the current language preference.
func (c *Client) Lang() models.Lang {
	return c.lang.Load().(models.Lang)
}

// SetLang changes the language preference for subsequent requests.
func (c *Client) SetLang(l models.Lang) {
	c.lang.Store(models.NormalizeLang(string(l)))
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Accept-Language": string(c.Lang())}
}

// Start submits a new analysis.
func (c *Client) Start(ctx context.Context, req models.StartRequest) (models.StartResponse, error) {
	var resp models.StartResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		Path:    "/api/analysis/start",
		Headers: c.headers(),
		Body:    req,
	}, &resp)
	if err != nil {
		return models.StartResponse{}, fmt.Errorf("start analysis: %w", err)
	}
	return resp, nil
}

// Status fetches the polling snapshot. A 404 becomes JobExpired.
func (c *Client) Status(ctx context.Context, id string) (models.StatusResponse, error) {
	var resp models.StatusResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		Path:    "/api/analysis/" + url.PathEscape(id) + "/status",
		Headers: c.headers(),
	}, &resp)
	if err != nil {
		var appErr *xhttp.AppError
		if errors.As(err, &appErr) && appErr.Code == xhttp.CodeServerRejection && appErr.Status == http.StatusNotFound {
			return models.StatusResponse{}, xhttp.JobExpiredError(id)
		}
		return models.StatusResponse{}, fmt.Errorf("poll status: %w", err)
	}
	return resp, nil
}

// Cancel asks the backend to stop a job. 409 means it already finished.
func (c *Client) Cancel(ctx context.Context, id string) error {
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodDelete,
		Path:    "/api/analysis/" + url.PathEscape(id),
		Headers: c.headers(),
	}, nil)
	if err != nil {
		return fmt.Errorf("cancel analysis: %w", err)
	}
	return nil
}

// StockContext fetches one snapshot without caching.
func (c *Client) StockContext(ctx context.Context, symbol string) (models.StockContext, error) {
	var resp models.StockContext
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		Path:    "/api/analysis/stock-context/" + url.PathEscape(symbol),
		Headers: c.headers(),
	}, &resp)
	if err != nil {
		return models.StockContext{}, fmt.Errorf("stock context %s: %w", symbol, err)
	}
	return resp, nil
}

// Health asks the backend whether it is ready.
func (c *Client) Health(ctx context.Context) error {
	return c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		Path:    "/health",
		Headers: c.headers(),
	}, nil)
}

// Models lists selectable models per provider.
func (c *Client) Models(ctx context.Context) (models.ModelCatalog, error) {
	var resp struct {
		Models models.ModelCatalog `json:"models"`
	}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		Path:    "/api/config/models",
		Headers: c.headers(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("models: %w", err)
	}
	if resp.Models == nil {
		resp.Models = models.ModelCatalog{}
	}
	return resp.Models, nil
}

// Trending returns the trending overview document untouched.
func (c *Client) Trending(ctx context.Context) (json.RawMessage, error) {
	var raw []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		Path:    "/api/trending/overview",
		Headers: c.headers(),
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}
	if !json.Valid(raw) {
		return nil, xhttp.ParseError(fmt.Errorf("trending overview is not json"))
	}
	return raw, nil
}

// History lists recent analyses, newest last as the backend sends them.
func (c *Client) History(ctx context.Context) ([]models.HistoryEntry, error) {
	var resp struct {
		Analyses []models.HistoryEntry `json:"analyses"`
	}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		Path:    "/api/analysis/history",
		Headers: c.headers(),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return resp.Analyses, nil
}
