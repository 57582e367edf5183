package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/util"

	"github.com/benbjohnson/clock"
	"github.com/creasty/defaults"
	"github.com/google/uuid"
)

// SessionConfig tunes the orchestrator.
type SessionConfig struct {
	Tracker          TrackerConfig
	ReadyRecheck     time.Duration
	NotReadyRecheck  time.Duration
	HistoryLimit     int
	NotifyEnabled    bool
	PublishTimeout   time.Duration
	ElapsedTickEvery time.Duration
}

// DefaultSessionConfig returns the stock orchestrator tuning.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Tracker:          DefaultTrackerConfig(),
		ReadyRecheck:     60 * time.Second,
		NotReadyRecheck:  15 * time.Second,
		HistoryLimit:     20,
		NotifyEnabled:    true,
		PublishTimeout:   5 * time.Second,
		ElapsedTickEvery: time.Second,
	}
}

// SessionDeps are the collaborators of a session. Catalog, Publisher and Notifier are optional.
type SessionDeps struct {
	API       drepo.AnalysisAPI
	Stream    drepo.EventStream
	Catalog   drepo.Catalog
	Publisher drepo.EventPublisher
	Notifier  drepo.Notifier
	Clock     clock.Clock
	Logger    *applogger.Logger
	Metrics   drepo.Metrics
}

// langSetter is implemented by backends that carry the language on every request.
type langSetter interface {
	SetLang(models.Lang)
}

// View is the display state of the session.
type View struct {
	Job       *models.AnalysisJob   `json:"job,omitempty"`
	State     string                `json:"state"`
	Percent   int                   `json:"percent"`
	Messages  []string              `json:"messages"`
	Result    models.AnalysisResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorCode string                `json:"error_code,omitempty"`
	Elapsed   string                `json:"elapsed"`
	ActiveTab models.ReportTab      `json:"active_tab,omitempty"`
	Lang      models.Lang           `json:"lang"`
	Ready     bool                  `json:"ready"`
}

// Active reports whether a job is running.
func (v View) Active() bool {
	return v.Job != nil && (v.Job.Status == models.JobPending || v.Job.Status == models.JobRunning)
}

// Session owns the single active analysis job and the display state derived from it.
type Session struct {
	cfg     SessionConfig
	api     drepo.AnalysisAPI
	stream  drepo.EventStream
	catalog drepo.Catalog
	pub     drepo.EventPublisher
	notif   drepo.Notifier
	clock   clock.Clock
	log     *applogger.Logger
	mx      drepo.Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc
	bg         sync.WaitGroup

	mu         sync.Mutex
	gen        uint64
	starting   bool
	tracker    *Tracker
	tickStop   chan struct{}
	view       View
	catalogue  models.ModelCatalog
	nextCheck  time.Time
	listeners  map[int]chan View
	listenerID int
}

// NewSession creates an idle session.
func NewSession(cfg SessionConfig, lang models.Lang, deps SessionDeps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = drepo.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		api:        deps.API,
		stream:     deps.Stream,
		catalog:    deps.Catalog,
		pub:        deps.Publisher,
		notif:      deps.Notifier,
		clock:      deps.Clock,
		log:        deps.Logger.Named("session"),
		mx:         deps.Metrics,
		baseCtx:    ctx,
		baseCancel: cancel,
		listeners:  make(map[int]chan View),
	}
	s.view = s.idleView(models.NormalizeLang(string(lang)))
	return s
}

func (s *Session) idleView(lang models.Lang) View {
	return View{State: StateIdle.String(), Messages: []string{}, Elapsed: util.FormatElapsed(0), Lang: lang}
}

// Snapshot returns a copy of the current view.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyViewLocked()
}

func (s *Session) copyViewLocked() View {
	v := s.view
	v.Messages = append([]string(nil), s.view.Messages...)
	if s.view.Job != nil {
		job := *s.view.Job
		v.Job = &job
	}
	return v
}

// Subscribe returns a channel receiving every view change and a function to stop.
// Slow receivers miss intermediate views, never the latest one.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	s.mu.Lock()
	id := s.listenerID
	s.listenerID++
	s.listeners[id] = ch
	ch <- s.copyViewLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) broadcastLocked() {
	v := s.copyViewLocked()
	for _, ch := range s.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// SetLang switches the display language and the language sent to the backend.
func (s *Session) SetLang(lang models.Lang) {
	lang = models.NormalizeLang(string(lang))
	if ls, ok := s.api.(langSetter); ok {
		ls.SetLang(lang)
	}
	s.mu.Lock()
	s.view.Lang = lang
	s.broadcastLocked()
	s.mu.Unlock()
}

// Submit validates req, tears down any previous job and starts a new one.
// Validation failures never reach the backend.
func (s *Session) Submit(ctx context.Context, req models.StartRequest) (models.AnalysisJob, error) {
	req.Symbol = util.NormalizeSymbol(req.Symbol)
	if err := defaults.Set(&req); err != nil {
		return models.AnalysisJob{}, fmt.Errorf("apply defaults: %w", err)
	}

	s.mu.Lock()
	if len(s.catalogue) > 0 {
		req.LLMProvider, req.LLMModel = s.catalogue.Select(req.LLMProvider, req.LLMModel)
	}
	s.mu.Unlock()

	if errs := xhttp.ValidateStruct(ctx, &req); len(errs) > 0 {
		s.mx.RecordError("validation")
		return models.AnalysisJob{}, xhttp.FirstValidationError(errs)
	}

	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return models.AnalysisJob{}, xhttp.ConflictError("an analysis is already being started")
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	// the previous job's channel and timers go away before anything new exists
	s.Reset()

	s.mu.Lock()
	lang, ready := s.view.Lang, s.view.Ready
	gen := s.gen
	s.mu.Unlock()

	resp, err := s.api.Start(ctx, req)
	if err != nil {
		s.log.Warn("start rejected", applogger.String("symbol", req.Symbol), applogger.Error(err))
		return models.AnalysisJob{}, s.startFailed(gen, err)
	}

	now := s.clock.Now()
	job := models.AnalysisJob{ID: resp.AnalysisID, Symbol: req.Symbol, StartedAt: now, Status: models.JobPending}

	if resp.IsCached() {
		job.Cached = true
		job.Status = models.JobCompleted
		s.log.Info("cached result", applogger.String("symbol", req.Symbol), applogger.String("job", job.ID))

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return job, xhttp.ConflictError("session was reset while starting")
		}
		s.view = s.idleView(lang)
		s.view.Ready = ready
		s.view.Job = &job
		s.view.State = StateCompleted.String()
		s.view.Percent = 100
		s.view.Result = resp.Result
		s.view.ActiveTab, _ = resp.Result.FirstReportTab()
		s.broadcastLocked()
		fin := s.finalizedLocked(StateCompleted)
		s.mu.Unlock()

		s.announce(fin, resp.Result, nil)
		return job, nil
	}

	if !models.ValidAnalysisID(resp.AnalysisID) {
		s.log.Warn("malformed analysis id", applogger.String("symbol", req.Symbol), applogger.String("id", resp.AnalysisID))
		return models.AnalysisJob{}, s.startFailed(gen,
			xhttp.ServerRejection(http.StatusBadGateway, "backend returned a malformed analysis id"))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return job, xhttp.ConflictError("session was reset while starting")
	}
	job.Status = models.JobRunning
	tr := NewTracker(job.ID, lang, s.cfg.Tracker, TrackerDeps{
		API:      s.api,
		Stream:   s.stream,
		Clock:    s.clock,
		Logger:   s.log,
		Metrics:  s.mx,
		OnUpdate: func(u Update) { s.onUpdate(gen, u) },
	})
	s.tracker = tr
	s.view = s.idleView(lang)
	s.view.Job = &job
	s.view.Ready = ready
	s.tickStop = make(chan struct{})
	go s.tickElapsed(gen, job.StartedAt, s.clock.Ticker(s.cfg.ElapsedTickEvery), s.tickStop)
	s.mx.SetActiveJobs(1)
	s.broadcastLocked()
	s.mu.Unlock()

	tr.Start(s.baseCtx)
	s.log.Info("analysis started", applogger.String("symbol", job.Symbol), applogger.String("job", job.ID))
	return job, nil
}

// onUpdate applies a tracker update unless the job it belongs to was replaced.
func (s *Session) onUpdate(gen uint64, u Update) {
	s.mu.Lock()
	if gen != s.gen || s.view.Job == nil {
		s.mu.Unlock()
		return
	}

	s.view.State = u.State.String()
	s.view.Percent = u.Percent
	s.view.Messages = u.Messages
	if u.Err != nil {
		s.view.Error = u.Err.Error()
		s.view.ErrorCode = xhttp.CodeOf(u.Err)
	}

	if !u.State.Terminal() {
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}

	s.view.Job.Status = jobStatus(u.State)
	if u.Result != nil {
		s.view.Result = u.Result
		s.view.ActiveTab, _ = u.Result.FirstReportTab()
	}
	s.view.Elapsed = util.FormatElapsed(s.clock.Since(s.view.Job.StartedAt))
	s.stopTickerLocked()
	s.mx.SetActiveJobs(0)
	s.broadcastLocked()
	fin := s.finalizedLocked(u.State)
	s.mu.Unlock()

	s.announce(fin, u.Result, u.Err)
}

func jobStatus(st TrackerState) models.JobStatus {
	switch st {
	case StateCompleted:
		return models.JobCompleted
	case StateFailed, StateTimedOut:
		return models.JobFailed
	case StateCancelled:
		return models.JobCancelled
	case StateIdle:
		return models.JobPending
	default:
		return models.JobRunning
	}
}

func (s *Session) finalizedLocked(st TrackerState) models.FinalizedEvent {
	job := s.view.Job
	ev := models.FinalizedEvent{
		EventID:    uuid.NewString(),
		AnalysisID: job.ID,
		Symbol:     job.Symbol,
		Status:     string(jobStatus(st)),
		Error:      s.view.Error,
		ElapsedMS:  s.clock.Since(job.StartedAt).Milliseconds(),
		Cached:     job.Cached,
		FinishedAt: s.clock.Now().UTC(),
	}
	if st == StateTimedOut {
		ev.Status = "timed_out"
	}
	if s.view.Result != nil {
		if action, ok := s.view.Result.Decision(s.view.Lang)["action"].(string); ok {
			ev.Action = action
		}
	}
	return ev
}

// announce raises the desktop notification and publishes the lifecycle event.
func (s *Session) announce(ev models.FinalizedEvent, result models.AnalysisResult, jobErr error) {
	if ev.Status == string(models.JobCompleted) || ev.Status == string(models.JobFailed) || ev.Status == "timed_out" {
		s.notify(ev, jobErr)
	}
	if s.pub == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
		defer cancel()
		if err := s.pub.PublishFinalized(ctx, ev); err != nil {
			s.mx.RecordError("publish")
			s.log.Warn("publish finalized event failed", applogger.String("job", ev.AnalysisID), applogger.Error(err))
		}
	}()
}

func (s *Session) notify(ev models.FinalizedEvent, jobErr error) {
	if !s.cfg.NotifyEnabled || s.notif == nil || s.notif.Foreground() {
		return
	}
	outcome := "completed"
	body := "Report is ready"
	if ev.Status != string(models.JobCompleted) {
		outcome = "failed"
		body = "analysis failed"
		if jobErr != nil {
			body = jobErr.Error()
		}
	} else if ev.Action != "" {
		body = "Decision: " + strings.ToUpper(ev.Action)
	}
	title := fmt.Sprintf("%s analysis %s", ev.Symbol, outcome)
	if err := s.notif.Notify(title, body); err != nil {
		s.log.Debug("notification failed", applogger.Error(err))
	}
}

func (s *Session) tickElapsed(gen uint64, started time.Time, t *clock.Ticker, stop <-chan struct{}) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			if gen != s.gen {
				s.mu.Unlock()
				return
			}
			s.view.Elapsed = util.FormatElapsed(now.Sub(started))
			s.broadcastLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Session) stopTickerLocked() {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
}

// startFailed shows err on the view unless the session moved on, and returns it.
func (s *Session) startFailed(gen uint64, err error) error {
	s.mx.RecordError("start")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.view.Error = err.Error()
		s.view.ErrorCode = xhttp.CodeOf(err)
		s.broadcastLocked()
	}
	return err
}

// Reset tears down the active job: the channel is closed, every timer cleared and the
// backend told to cancel when the job had not finished. It returns once the tracker is gone.
func (s *Session) Reset() {
	s.mu.Lock()
	s.gen++
	tr := s.tracker
	s.tracker = nil
	s.stopTickerLocked()

	var fin *models.FinalizedEvent
	if s.view.Active() {
		s.view.Job.Status = models.JobCancelled
		ev := s.finalizedLocked(StateCancelled)
		fin = &ev
	}
	lang, ready := s.view.Lang, s.view.Ready
	s.view = s.idleView(lang)
	s.view.Ready = ready
	s.mx.SetActiveJobs(0)
	s.broadcastLocked()
	s.mu.Unlock()

	if tr != nil {
		tr.Stop()
	}
	if fin != nil {
		s.announce(*fin, nil, nil)
	}
}

// Unload is the navigation-away path. With a job running it asks confirm first and
// aborts on a false answer; otherwise the job is torn down before it returns.
func (s *Session) Unload(confirm func() bool) bool {
	if s.Snapshot().Active() && confirm != nil && !confirm() {
		return false
	}
	s.Reset()
	return true
}

// Close resets the session and waits for pending lifecycle publishes.
func (s *Session) Close() {
	s.Reset()
	s.baseCancel()
	s.bg.Wait()
}

// SelectTab switches the visible report tab.
func (s *Session) SelectTab(tab models.ReportTab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view.Result == nil {
		return xhttp.NotFoundErrorf("no result to show")
	}
	s.view.ActiveTab = tab
	s.broadcastLocked()
	return nil
}

// Report returns the raw localized field behind tab.
func (s *Session) Report(tab models.ReportTab) (interface{}, models.Lang, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view.Result == nil {
		return nil, s.view.Lang, xhttp.NotFoundErrorf("no result to show")
	}
	return s.view.Result.Report(tab, s.view.Lang), s.view.Lang, nil
}

// CheckHealth checks the backend and records readiness. Failures yield a not-ready
// state, never an error.
func (s *Session) CheckHealth(ctx context.Context) bool {
	ready := s.catalog != nil && s.catalog.Health(ctx) == nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if ready != s.view.Ready {
		s.log.Info("backend readiness changed", applogger.Bool("ready", ready))
	}
	s.view.Ready = ready
	s.nextCheck = s.clock.Now().Add(s.RecheckInterval(ready))
	s.broadcastLocked()
	return ready
}

// RecheckInterval is how long to wait before the next health check.
func (s *Session) RecheckInterval(ready bool) time.Duration {
	if ready {
		return s.cfg.ReadyRecheck
	}
	return s.cfg.NotReadyRecheck
}

// NextHealthCheck is when the last check asked to be repeated.
func (s *Session) NextHealthCheck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCheck
}

// WatchHealth re-checks the backend until ctx is done.
func (s *Session) WatchHealth(ctx context.Context) {
	for {
		ready := s.CheckHealth(ctx)
		t := s.clock.Timer(s.RecheckInterval(ready))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// LoadModels fetches the model catalog; any failure yields an empty catalog.
func (s *Session) LoadModels(ctx context.Context) models.ModelCatalog {
	catalog := models.ModelCatalog{}
	if s.catalog != nil {
		m, err := s.catalog.Models(ctx)
		if err != nil {
			s.log.Warn("models unavailable", applogger.Error(err))
		} else if m != nil {
			catalog = m
		}
	}
	s.mu.Lock()
	s.catalogue = catalog
	s.mu.Unlock()
	return catalog
}

// Trending returns the trending overview, or false when it is unavailable.
func (s *Session) Trending(ctx context.Context) (json.RawMessage, bool) {
	if s.catalog == nil {
		return nil, false
	}
	raw, err := s.catalog.Trending(ctx)
	if err != nil {
		s.log.Warn("trending unavailable", applogger.Error(err))
		return nil, false
	}
	return raw, true
}

// History returns at most HistoryLimit recent analyses, newest last.
func (s *Session) History(ctx context.Context) []models.HistoryEntry {
	if s.catalog == nil {
		return nil
	}
	entries, err := s.catalog.History(ctx)
	if err != nil {
		s.log.Warn("history unavailable", applogger.Error(err))
		return nil
	}
	if n := s.cfg.HistoryLimit; n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

// LoadResult shows the stored result of a past analysis without tracking it.
func (s *Session) LoadResult(ctx context.Context, id string) error {
	if !models.ValidAnalysisID(id) {
		return xhttp.NewValidationError("analysis_id", "malformed analysis id")
	}
	resp, err := s.api.Status(ctx, id)
	if err != nil {
		return err
	}
	if len(resp.Result) == 0 {
		return xhttp.NotFoundErrorf("analysis %s has no result", id)
	}

	s.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	job := models.AnalysisJob{ID: id, Symbol: resp.StockSymbol, StartedAt: s.clock.Now(), Status: models.JobCompleted}
	s.view.Job = &job
	s.view.State = StateCompleted.String()
	s.view.Percent = 100
	s.view.Messages = append([]string(nil), resp.Progress...)
	s.view.Result = resp.Result
	s.view.ActiveTab, _ = resp.Result.FirstReportTab()
	s.broadcastLocked()
	return nil
}

// Result returns the current result, if any.
func (s *Session) Result() (models.AnalysisResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Result, s.view.Result != nil
}

// Export writes the current result as JSON under dir.
func (s *Session) Export(dir string) (string, error) {
	result, ok := s.Result()
	if !ok {
		return "", xhttp.NotFoundErrorf("no result to export")
	}
	return ExportResult(dir, result)
}
