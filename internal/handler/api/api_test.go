package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"TradeDesk/internal/domain/models"
	"TradeDesk/internal/service/ratelimit"
	"TradeDesk/internal/services/markdown"
	"TradeDesk/internal/usecase"
	"TradeDesk/pkg/cache"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedAPI struct {
	mu     sync.Mutex
	starts int
}

func (a *cachedAPI) Start(context.Context, models.StartRequest) (models.StartResponse, error) {
	a.mu.Lock()
	a.starts++
	a.mu.Unlock()
	return models.StartResponse{
		AnalysisID: "analysis_abcdefghijklmnop",
		Status:     "cached",
		Result: models.AnalysisResult{
			"state": map[string]interface{}{
				"news_report":             "## Headlines\n<script>x</script>",
				"investment_debate_state": map[string]interface{}{"bull_history": "Up only"},
			},
			"decision": map[string]interface{}{"action": "hold"},
		},
	}, nil
}

func (a *cachedAPI) Status(context.Context, string) (models.StatusResponse, error) {
	return models.StatusResponse{}, nil
}

func (a *cachedAPI) Cancel(context.Context, string) error { return nil }

type staticSource struct{}

func (staticSource) StockContext(_ context.Context, symbol string) (models.StockContext, error) {
	price := 412.3
	return models.StockContext{Symbol: symbol, Name: "Microsoft", Price: &price}, nil
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fixture struct {
	echo    *echo.Echo
	session *usecase.Session
	api     *cachedAPI
}

func newFixture(t *testing.T, burst float64) *fixture {
	t.Helper()
	log := applogger.Nop()
	api := &cachedAPI{}
	session := usecase.NewSession(usecase.DefaultSessionConfig(), models.LangEN, usecase.SessionDeps{API: api, Logger: log})
	t.Cleanup(session.Close)

	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	contexts := usecase.NewStockContextCache(staticSource{}, mem, usecase.DefaultStockContextConfig())

	handlers := xhttp.Handlers{
		NewSessionHandler(log, session, contexts, markdown.New(markdown.NewPolicySanitizer()), ratelimit.New(burst, 0.01),
			WithAllowedOrigins("http://localhost:5173")),
		NewWatchlistHandler(log, usecase.NewWatchlist(&memKV{data: map[string]string{}}, 2, log)),
	}
	srv := xhttp.NewServer(log, handlers)
	return &fixture{echo: srv.Echo(), session: session, api: api}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

const startBody = `{"stock_symbol":" msft ","analysis_date":"2025-03-14","analysts":["market","news"],"llm_model":"gpt-4o-mini"}`

func TestStartRendersCachedResult(t *testing.T) {
	f := newFixture(t, 5)

	rec := f.do(t, http.MethodPost, "/api/session", startBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data models.AnalysisJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "MSFT", resp.Data.Symbol)
	assert.True(t, resp.Data.Cached)

	rec = f.do(t, http.MethodGet, "/api/session/report/news", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h4>Headlines</h4>")
	assert.NotContains(t, rec.Body.String(), "<script")

	rec = f.do(t, http.MethodGet, "/api/session/report/debate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bull Researcher")

	rec = f.do(t, http.MethodGet, "/api/session/report/bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/session/tab/debate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TabDebate, f.session.Snapshot().ActiveTab)
}

func TestStartRejectsInvalidTicker(t *testing.T) {
	f := newFixture(t, 5)

	rec := f.do(t, http.MethodPost, "/api/session", strings.Replace(startBody, " msft ", "BRK.B", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), xhttp.CodeValidation)
	assert.Equal(t, 0, f.api.starts)
}

func TestStartIsRateLimited(t *testing.T) {
	f := newFixture(t, 1)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/session", startBody).Code)
	rec := f.do(t, http.MethodPost, "/api/session", startBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, f.api.starts)
}

func TestReportWithoutResultIsNotFound(t *testing.T) {
	f := newFixture(t, 5)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/session/report/news", "").Code)
}

func TestResetAndSnapshot(t *testing.T) {
	f := newFixture(t, 5)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/session", startBody).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/session", "").Code)

	rec := f.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data usecase.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp.Data.State)
	assert.Nil(t, resp.Data.Job)
}

func TestContextEndpoint(t *testing.T) {
	f := newFixture(t, 5)

	rec := f.do(t, http.MethodGet, "/api/session/context?symbol=msft", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Microsoft"`)

	rec = f.do(t, http.MethodGet, "/api/session/context?symbol=TOOLONG", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistRoutes(t *testing.T) {
	f := newFixture(t, 5)

	rec := f.do(t, http.MethodPut, "/api/watchlist/aapl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"watched":true`)

	rec = f.do(t, http.MethodPut, "/api/watchlist/bad1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/watchlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rows":["AAPL"]`)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/watchlist", "").Code)
	assert.Contains(t, f.do(t, http.MethodGet, "/api/watchlist", "").Body.String(), `"total":0`)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, 5)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestLiveStreamsSnapshots(t *testing.T) {
	f := newFixture(t, 5)
	ts := httptest.NewServer(f.echo)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg liveMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "idle", msg.Payload.State)

	_, err = f.session.Submit(context.Background(), models.StartRequest{
		Symbol:       "MSFT",
		AnalysisDate: "2025-03-14",
		Analysts:     []string{"market"},
		LLMModel:     "gpt-4o-mini",
	})
	require.NoError(t, err)

	for msg.Payload.State != "completed" {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	assert.Equal(t, 100, msg.Payload.Percent)
	assert.Equal(t, models.TabNews, msg.Payload.ActiveTab)
}

func TestCatalogRoutesWithoutBackendCatalog(t *testing.T) {
	f := newFixture(t, 5)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodGet, "/api/trending", "").Code)

	rec := f.do(t, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = f.do(t, http.MethodPost, "/api/session/load/not-an-id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveChecksOrigin(t *testing.T) {
	f := newFixture(t, 5)
	ts := httptest.NewServer(f.echo)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/live"

	tests := []struct {
		name   string
		origin string
		wantOK bool
	}{
		{"no origin", "", true},
		{"own host", ts.URL, true},
		{"configured origin", "http://localhost:5173", true},
		{"foreign origin", "https://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if !tt.wantOK {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			defer conn.Close()

			var msg liveMessage
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			require.NoError(t, conn.ReadJSON(&msg))
			assert.Equal(t, "snapshot", msg.Type)
		})
	}
}

func TestStartRejectsFormBody(t *testing.T) {
	f := newFixture(t, 5)

	req := httptest.NewRequest(http.MethodPost, "/api/session",
		strings.NewReader("stock_symbol=MSFT&analysis_date=2025-03-14&analysts=market&llm_model=gpt-4o-mini"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	assert.Equal(t, 0, f.api.starts)
	assert.Nil(t, f.session.Snapshot().Job)
}
