package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"TradeDesk/internal/domain/models"
	xhttp "TradeDesk/pkg/http"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	healthErr error
	catalog   models.ModelCatalog
	modelsErr error
	trending  json.RawMessage
	history   []models.HistoryEntry
}

func (c *fakeCatalog) Health(context.Context) error { return c.healthErr }

func (c *fakeCatalog) Models(context.Context) (models.ModelCatalog, error) {
	return c.catalog, c.modelsErr
}

func (c *fakeCatalog) Trending(context.Context) (json.RawMessage, error) {
	if c.trending == nil {
		return nil, errors.New("trending unavailable")
	}
	return c.trending, nil
}

func (c *fakeCatalog) History(context.Context) ([]models.HistoryEntry, error) {
	return c.history, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	foreground bool
	titles     []string
	bodies     []string
}

func (n *fakeNotifier) Foreground() bool { return n.foreground }

func (n *fakeNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.FinalizedEvent
}

func (p *fakePublisher) PublishFinalized(_ context.Context, ev models.FinalizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []models.FinalizedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.FinalizedEvent(nil), p.events...)
}

type sessionFixture struct {
	api     *fakeAPI
	stream  *fakeStream
	catalog *fakeCatalog
	notif   *fakeNotifier
	pub     *fakePublisher
	clock   *clock.Mock
	session *Session
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		api:     &fakeAPI{},
		stream:  &fakeStream{},
		catalog: &fakeCatalog{},
		notif:   &fakeNotifier{},
		pub:     &fakePublisher{},
		clock:   clock.NewMock(),
	}
	f.session = NewSession(DefaultSessionConfig(), models.LangEN, SessionDeps{
		API:       f.api,
		Stream:    f.stream,
		Catalog:   f.catalog,
		Publisher: f.pub,
		Notifier:  f.notif,
		Clock:     f.clock,
	})
	t.Cleanup(f.session.Close)
	return f
}

func validRequest(symbol string) models.StartRequest {
	return models.StartRequest{
		Symbol:       symbol,
		AnalysisDate: "2025-03-14",
		Analysts:     []string{"market", "news"},
		LLMModel:     "gpt-4o-mini",
	}
}

func completedResult() models.AnalysisResult {
	return models.AnalysisResult{
		"state": map[string]interface{}{
			"market_report": "",
			"news_report":   "## Headlines",
		},
		"decision": map[string]interface{}{"action": "buy"},
	}
}

func TestSubmitRejectsInvalidTickerLocally(t *testing.T) {
	f := newSessionFixture(t)

	for _, symbol := range []string{"", "TOOLONG", "BRK.B", "A1", "   "} {
		t.Run(fmt.Sprintf("%q", symbol), func(t *testing.T) {
			_, err := f.session.Submit(context.Background(), validRequest(symbol))
			require.Error(t, err)
			assert.True(t, xhttp.HasCode(err, xhttp.CodeValidation))
		})
	}
	assert.Equal(t, 0, f.api.starts)
	assert.Equal(t, 0, f.stream.opens())
}

func TestSubmitRejectsIncompleteForm(t *testing.T) {
	f := newSessionFixture(t)

	req := validRequest("AAPL")
	req.Analysts = nil
	_, err := f.session.Submit(context.Background(), req)
	require.Error(t, err)

	var appErr *xhttp.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "analysts", appErr.Field)
	assert.Equal(t, 0, f.api.starts)
}

func TestSubmitCachedResultSkipsTracking(t *testing.T) {
	f := newSessionFixture(t)
	f.api.startFn = func(models.StartRequest) (models.StartResponse, error) {
		return models.StartResponse{AnalysisID: "cache-hit", Status: "cached", Result: completedResult()}, nil
	}

	job, err := f.session.Submit(context.Background(), validRequest("aapl"))
	require.NoError(t, err)
	assert.True(t, job.Cached)
	assert.Equal(t, "AAPL", job.Symbol)

	v := f.session.Snapshot()
	assert.Equal(t, "completed", v.State)
	assert.Equal(t, 100, v.Percent)
	assert.Equal(t, models.TabNews, v.ActiveTab)
	assert.False(t, v.Active())
	assert.Equal(t, 0, f.stream.opens())

	assert.Equal(t, []string{"AAPL analysis completed"}, f.notif.sent())
	require.Eventually(t, func() bool { return len(f.pub.published()) == 1 }, time.Second, time.Millisecond)
	ev := f.pub.published()[0]
	assert.True(t, ev.Cached)
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, "buy", ev.Action)
	assert.NotEmpty(t, ev.EventID)
}

func TestSubmitRejectsMalformedJobID(t *testing.T) {
	f := newSessionFixture(t)
	f.api.startFn = func(models.StartRequest) (models.StartResponse, error) {
		return models.StartResponse{AnalysisID: "<script>", Status: "pending"}, nil
	}
	views, stop := f.session.Subscribe()
	defer stop()

	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.Error(t, err)
	assert.True(t, xhttp.HasCode(err, xhttp.CodeServerRejection))
	assert.Equal(t, 0, f.stream.opens())

	v := f.session.Snapshot()
	assert.Equal(t, "idle", v.State)
	assert.Contains(t, v.Error, "malformed analysis id")
	assert.Equal(t, xhttp.CodeServerRejection, v.ErrorCode)

	require.Eventually(t, func() bool {
		for {
			select {
			case got := <-views:
				if got.ErrorCode == xhttp.CodeServerRejection {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitSurfacesServerRejection(t *testing.T) {
	f := newSessionFixture(t)
	f.api.startFn = func(models.StartRequest) (models.StartResponse, error) {
		return models.StartResponse{}, xhttp.ServerRejection(http.StatusTooManyRequests, "slow down")
	}

	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.Error(t, err)

	v := f.session.Snapshot()
	assert.Equal(t, "slow down", v.Error)
	assert.Equal(t, xhttp.CodeServerRejection, v.ErrorCode)
}

func TestSubmitTracksJobToCompletion(t *testing.T) {
	f := newSessionFixture(t)

	job, err := f.session.Submit(context.Background(), validRequest("NVDA"))
	require.NoError(t, err)
	assert.Equal(t, testJobID, job.ID)
	assert.True(t, f.session.Snapshot().Active())

	require.Eventually(t, func() bool { return f.stream.opens() == 1 }, time.Second, time.Millisecond)
	sub := f.stream.last()
	sub.send(`{"type":"progress","message":"[1/2] market analyst"}`)
	require.Eventually(t, func() bool { return f.session.Snapshot().Percent == 48 }, time.Second, time.Millisecond)

	payload, err := json.Marshal(map[string]interface{}{"type": "completed", "result": completedResult()})
	require.NoError(t, err)
	sub.send(string(payload))

	require.Eventually(t, func() bool { return f.session.Snapshot().State == "completed" }, time.Second, time.Millisecond)
	v := f.session.Snapshot()
	assert.Equal(t, models.JobCompleted, v.Job.Status)
	assert.Equal(t, models.TabNews, v.ActiveTab)
	require.Eventually(t, func() bool { return len(f.notif.sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"NVDA analysis completed"}, f.notif.sent())
	require.Eventually(t, func() bool { return len(f.pub.published()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, testJobID, f.pub.published()[0].AnalysisID)
}

func TestSubmitFailureNotifies(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.Submit(context.Background(), validRequest("AMD"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.stream.opens() == 1 }, time.Second, time.Millisecond)
	f.stream.last().send(`{"type":"failed","error":"backend crashed"}`)

	require.Eventually(t, func() bool { return f.session.Snapshot().State == "failed" }, time.Second, time.Millisecond)
	assert.Equal(t, "backend crashed", f.session.Snapshot().Error)
	require.Eventually(t, func() bool { return len(f.notif.sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"AMD analysis failed"}, f.notif.sent())
}

func TestForegroundSuppressesNotification(t *testing.T) {
	f := newSessionFixture(t)
	f.notif.foreground = true
	f.api.startFn = func(models.StartRequest) (models.StartResponse, error) {
		return models.StartResponse{Status: "cached", Result: completedResult()}, nil
	}

	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.NoError(t, err)
	assert.Empty(t, f.notif.sent())
}

func TestResubmitTearsDownPreviousJobFirst(t *testing.T) {
	f := newSessionFixture(t)
	ids := []string{"analysis_first_job_000000001", "analysis_second_job_00000002"}
	f.api.startFn = func(models.StartRequest) (models.StartResponse, error) {
		f.api.mu.Lock()
		n := f.api.starts
		f.api.mu.Unlock()
		if n == 2 {
			// the first channel must already be gone when the second start goes out
			assert.True(t, f.stream.last().isClosed())
		}
		return models.StartResponse{AnalysisID: ids[n-1], Status: "pending"}, nil
	}

	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.stream.opens() == 1 }, time.Second, time.Millisecond)
	first := f.stream.last()

	job, err := f.session.Submit(context.Background(), validRequest("MSFT"))
	require.NoError(t, err)
	assert.Equal(t, ids[1], job.ID)
	assert.True(t, first.isClosed())
	require.Eventually(t, func() bool { return len(f.api.cancels()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ids[0], f.api.cancels()[0])

	// late events on the old channel never reach the new job's view
	first.msgs <- []byte(`{"type":"progress","message":"stale"}`)
	require.Eventually(t, func() bool { return f.stream.opens() == 2 }, time.Second, time.Millisecond)
	assert.NotContains(t, f.session.Snapshot().Messages, "stale")
	assert.Equal(t, "MSFT", f.session.Snapshot().Job.Symbol)
}

func TestResetDuringReconnectPreventsRevival(t *testing.T) {
	f := newSessionFixture(t)
	f.stream.failed = true

	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.session.Snapshot().State == "reconnecting" }, time.Second, time.Millisecond)

	f.session.Reset()
	f.clock.Add(time.Minute)

	assert.Equal(t, 1, f.stream.opens())
	v := f.session.Snapshot()
	assert.Equal(t, "idle", v.State)
	assert.Nil(t, v.Job)

	require.Eventually(t, func() bool { return len(f.pub.published()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "cancelled", f.pub.published()[0].Status)
}

func TestElapsedTicksEverySecond(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "00:00", f.session.Snapshot().Elapsed)

	for i := 1; i <= 3; i++ {
		f.clock.Add(time.Second)
		want := fmt.Sprintf("00:%02d", i)
		require.Eventually(t, func() bool { return f.session.Snapshot().Elapsed == want }, time.Second, time.Millisecond)
	}
}

func TestUnloadAsksWhileActive(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.session.Submit(context.Background(), validRequest("AAPL"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.stream.opens() == 1 }, time.Second, time.Millisecond)

	asked := 0
	assert.False(t, f.session.Unload(func() bool { asked++; return false }))
	assert.True(t, f.session.Snapshot().Active())
	assert.False(t, f.stream.last().isClosed())

	assert.True(t, f.session.Unload(func() bool { asked++; return true }))
	assert.Equal(t, 2, asked)
	assert.True(t, f.stream.last().isClosed())
	assert.False(t, f.session.Snapshot().Active())

	// nothing running: no question asked
	assert.True(t, f.session.Unload(func() bool { asked++; return false }))
	assert.Equal(t, 2, asked)
}

func TestReadiness(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	assert.True(t, f.session.CheckHealth(ctx))
	assert.True(t, f.session.Snapshot().Ready)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), f.session.NextHealthCheck())

	f.catalog.healthErr = xhttp.TransportError(errors.New("down"))
	assert.False(t, f.session.CheckHealth(ctx))
	assert.False(t, f.session.Snapshot().Ready)
	assert.Equal(t, f.clock.Now().Add(15*time.Second), f.session.NextHealthCheck())
}

func TestCatalogFailuresAreNotErrors(t *testing.T) {
	f := newSessionFixture(t)
	f.catalog.modelsErr = errors.New("boom")
	ctx := context.Background()

	assert.Empty(t, f.session.LoadModels(ctx))
	_, ok := f.session.Trending(ctx)
	assert.False(t, ok)

	f.catalog.trending = json.RawMessage(`{"gainers":[]}`)
	raw, ok := f.session.Trending(ctx)
	assert.True(t, ok)
	assert.JSONEq(t, `{"gainers":[]}`, string(raw))
}

func TestSubmitAppliesModelCatalog(t *testing.T) {
	f := newSessionFixture(t)
	f.catalog.catalog = models.ModelCatalog{
		"openai":    {{ID: "gpt-4o"}, {ID: "gpt-4o-mini"}},
		"anthropic": {{ID: "claude-sonnet"}},
	}
	var sent models.StartRequest
	f.api.startFn = func(req models.StartRequest) (models.StartResponse, error) {
		sent = req
		return models.StartResponse{Status: "cached", Result: completedResult()}, nil
	}
	f.session.LoadModels(context.Background())

	req := validRequest("AAPL")
	req.LLMModel = "retired-model"
	_, err := f.session.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "openai", sent.LLMProvider)
	assert.Equal(t, "gpt-4o", sent.LLMModel)
	assert.Equal(t, 3, sent.ResearchDepth)
}

func TestHistoryKeepsNewestTwenty(t *testing.T) {
	f := newSessionFixture(t)
	for i := 0; i < 25; i++ {
		f.catalog.history = append(f.catalog.history, models.HistoryEntry{AnalysisID: fmt.Sprintf("h%d", i)})
	}

	entries := f.session.History(context.Background())
	require.Len(t, entries, 20)
	assert.Equal(t, "h5", entries[0].AnalysisID)
	assert.Equal(t, "h24", entries[19].AnalysisID)
}

func TestLoadResult(t *testing.T) {
	f := newSessionFixture(t)
	f.api.statusFn = func(int) (models.StatusResponse, error) {
		return models.StatusResponse{Status: "completed", StockSymbol: "TSLA", Result: completedResult()}, nil
	}

	require.Error(t, f.session.LoadResult(context.Background(), "bogus"))
	require.NoError(t, f.session.LoadResult(context.Background(), testJobID))

	v := f.session.Snapshot()
	assert.Equal(t, "TSLA", v.Job.Symbol)
	assert.Equal(t, models.TabNews, v.ActiveTab)

	report, lang, err := f.session.Report(models.TabNews)
	require.NoError(t, err)
	assert.Equal(t, models.LangEN, lang)
	assert.Equal(t, "## Headlines", report)
}

func TestSubscribeDeliversLatestView(t *testing.T) {
	f := newSessionFixture(t)
	ch, stop := f.session.Subscribe()
	defer stop()

	first := <-ch
	assert.Equal(t, "idle", first.State)

	f.session.SetLang(models.LangZhTW)
	v := <-ch
	assert.Equal(t, models.LangZhTW, v.Lang)
}
