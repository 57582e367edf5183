package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"TradeDesk/internal/domain/models"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(xhttp.NewClient(xhttp.WithBaseURL(srv.URL)), models.LangEN, applogger.Nop())
}

func TestStartSendsFormAndLanguage(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analysis/start", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "en", r.Header.Get("Accept-Language"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"analysis_id":"analysis_abcdefghijklmnop","status":"pending"}`))
	})

	resp, err := c.Start(context.Background(), models.StartRequest{
		Symbol: "AAPL", AnalysisDate: "2025-01-02", Analysts: []string{"market"},
		ResearchDepth: 3, LLMProvider: "openai", LLMModel: "gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, "analysis_abcdefghijklmnop", resp.AnalysisID)
	assert.False(t, resp.IsCached())
	assert.Equal(t, "AAPL", body["stock_symbol"])
	assert.Equal(t, "2025-01-02", body["analysis_date"])
	assert.EqualValues(t, 3, body["research_depth"])
	assert.Equal(t, "gpt-4o", body["llm_model"])
}

func TestStartRejectionCarriesDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"too many concurrent analyses"}`))
	})

	_, err := c.Start(context.Background(), models.StartRequest{})
	require.Error(t, err)
	assert.True(t, xhttp.HasCode(err, xhttp.CodeServerRejection))
	assert.Contains(t, err.Error(), "too many concurrent analyses")
}

func TestStartRejectionWithoutDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := c.Start(context.Background(), models.StartRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed with status 502")
}

func TestStatusNotFoundIsJobExpired(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analysis/analysis_abcdefghijklmnop/status", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Status(context.Background(), "analysis_abcdefghijklmnop")
	assert.True(t, xhttp.HasCode(err, xhttp.CodeJobExpired))
}

func TestStatusMalformedBodyIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":`))
	})

	_, err := c.Status(context.Background(), "analysis_abcdefghijklmnop")
	assert.True(t, xhttp.HasCode(err, xhttp.CodeParse))
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(xhttp.NewClient(xhttp.WithBaseURL(srv.URL)), models.LangZhTW, applogger.Nop())

	_, err := c.StockContext(context.Background(), "AAPL")
	assert.True(t, xhttp.HasCode(err, xhttp.CodeTransport))
}

func TestModelsAndHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/config/models":
			_, _ = w.Write([]byte(`{"models":{"openai":[{"id":"gpt-4o","name":"GPT-4o","tier":"quality"}]}}`))
		case "/api/analysis/history":
			_, _ = w.Write([]byte(`{"analyses":[{"analysis_id":"a1","stock_symbol":"MSFT","status":"completed"}]}`))
		case "/api/trending/overview":
			_, _ = w.Write([]byte(`{"indices":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	cat, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cat["openai"][0].ID)

	hist, err := c.History(context.Background())
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "MSFT", hist[0].StockSymbol)

	raw, err := c.Trending(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"indices":[]}`, string(raw))
}

func TestSetLangSwitchesHeader(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Accept-Language")
	})
	c.SetLang("fr")
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "zh-TW", got)
}
