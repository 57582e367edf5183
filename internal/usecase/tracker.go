package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/util"

	"github.com/benbjohnson/clock"
)

// TrackerState is the transport state of one job.
type TrackerState int32

const (
	StateIdle TrackerState = iota
	StateStreaming
	StateReconnecting
	StatePolling
	StateCompleted
	StateFailed
	StateCancelled
	StateTimedOut
)

var stateNames = [...]string{"idle", "streaming", "reconnecting", "polling", "completed", "failed", "cancelled", "timed_out"}

func (s TrackerState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible.
func (s TrackerState) Terminal() bool { return s >= StateCompleted }

var allowedTransitions = map[TrackerState][]TrackerState{
	StateIdle:         {StateStreaming, StateCancelled},
	StateStreaming:    {StateReconnecting, StatePolling, StateCompleted, StateFailed, StateCancelled},
	StateReconnecting: {StateStreaming, StateCancelled},
	StatePolling:      {StateCompleted, StateFailed, StateTimedOut, StateCancelled},
}

func canTransition(from, to TrackerState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobFailedError is a failure reported by the backend for the job itself.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "analysis failed"
	}
	return e.Message
}

// Update is a snapshot emitted by the tracker after every change.
type Update struct {
	JobID    string
	State    TrackerState
	Messages []string
	Percent  int
	Result   models.AnalysisResult
	Err      error
}

// TrackerConfig holds the transport tuning.
type TrackerConfig struct {
	MaxReconnects     int
	StreamBackoffBase time.Duration
	StreamBackoffMax  time.Duration
	PollBase          time.Duration
	PollMax           time.Duration
	PollMaxRetries    int
	ProgressStep      int
	ProgressCap       int
	LogCap            int
	LogTrim           int
	CancelTimeout     time.Duration
}

// DefaultTrackerConfig returns the stock tuning.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxReconnects:     3,
		StreamBackoffBase: time.Second,
		StreamBackoffMax:  8 * time.Second,
		PollBase:          3 * time.Second,
		PollMax:           15 * time.Second,
		PollMaxRetries:    120,
		ProgressStep:      8,
		ProgressCap:       95,
		LogCap:            200,
		LogTrim:           10,
		CancelTimeout:     5 * time.Second,
	}
}

// ReconnectDelay is min(base*2^(attempt-1), max).
func (c TrackerConfig) ReconnectDelay(attempt int) time.Duration {
	return backoff(c.StreamBackoffBase, c.StreamBackoffMax, attempt-1)
}

// PollDelay is min(base*2^min(retries,3), max).
func (c TrackerConfig) PollDelay(retries int) time.Duration {
	if retries > 3 {
		retries = 3
	}
	return backoff(c.PollBase, c.PollMax, retries)
}

func backoff(base, max time.Duration, exp int) time.Duration {
	d := base
	for i := 0; i < exp && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// TrackerDeps are the collaborators of a tracker.
type TrackerDeps struct {
	API      drepo.AnalysisAPI
	Stream   drepo.EventStream
	Clock    clock.Clock
	Logger   *applogger.Logger
	Metrics  drepo.Metrics
	OnUpdate func(Update)
}

type pollResult struct {
	resp models.StatusResponse
	err  error
}

// Tracker follows one job over the push channel, falling back to polling.
// All mutable state is owned by the goroutine started in Start; OnUpdate is
// called from that goroutine.
type Tracker struct {
	jobID string
	lang  models.Lang
	cfg   TrackerConfig
	api   drepo.AnalysisAPI
	sub   drepo.EventStream
	clock clock.Clock
	log   *applogger.Logger
	mx    drepo.Metrics
	emitf func(Update)

	cancelCh    chan struct{}
	cancelOnce  sync.Once
	startOnce   sync.Once
	done        chan struct{}
	pollResults chan pollResult
	current     atomic.Int32

	// loop-owned
	state          TrackerState
	progress       *ProgressLog
	percent        int
	reconnects     int
	pollRetries    int
	channel        drepo.Subscription
	reconnectTimer *clock.Timer
	pollTimer      *clock.Timer
	pollCancel     context.CancelFunc
	result         models.AnalysisResult
	err            error
}

// NewTracker creates an idle tracker for jobID.
func NewTracker(jobID string, lang models.Lang, cfg TrackerConfig, deps TrackerDeps) *Tracker {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = applogger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = drepo.NopMetrics{}
	}
	if deps.OnUpdate == nil {
		deps.OnUpdate = func(Update) {}
	}
	return &Tracker{
		jobID:       jobID,
		lang:        models.NormalizeLang(string(lang)),
		cfg:         cfg,
		api:         deps.API,
		sub:         deps.Stream,
		clock:       deps.Clock,
		log:         deps.Logger.Named("tracker"),
		mx:          deps.Metrics,
		emitf:       deps.OnUpdate,
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
		pollResults: make(chan pollResult, 1),
		progress:    NewProgressLog(cfg.LogCap, cfg.LogTrim),
	}
}

// JobID returns the tracked job id.
func (t *Tracker) JobID() string { return t.jobID }

// State returns the current state; safe from any goroutine.
func (t *Tracker) State() TrackerState { return TrackerState(t.current.Load()) }

// Done is closed after the tracker reached a terminal state and released its resources.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Start opens the push channel and runs the loop until a terminal state.
// Cancelling ctx is equivalent to Cancel.
func (t *Tracker) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.run(ctx)
	})
}

// Cancel requests cancellation; it does not wait.
func (t *Tracker) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Stop cancels and waits until every channel and timer is released.
func (t *Tracker) Stop() {
	t.Cancel()
	// never started: nothing to release
	t.startOnce.Do(func() { close(t.done) })
	<-t.done
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	defer t.teardown()

	select {
	case <-t.cancelCh:
		t.cancel(StateIdle)
		return
	default:
	}
	t.openChannel(ctx)

	for !t.state.Terminal() {
		var msgs <-chan []byte
		if t.channel != nil {
			msgs = t.channel.Messages()
		}
		var reconnectC, pollC <-chan time.Time
		if t.reconnectTimer != nil {
			reconnectC = t.reconnectTimer.C
		}
		if t.pollTimer != nil {
			pollC = t.pollTimer.C
		}

		select {
		case <-t.cancelCh:
			t.cancel(t.state)
		case <-ctx.Done():
			t.cancel(t.state)
		case payload, ok := <-msgs:
			if ok {
				t.handlePayload(payload)
				continue
			}
			err := <-t.channel.Errors()
			t.channel = nil
			if err == nil {
				err = xhttp.TransportError(errors.New("event stream ended"))
			}
			t.handleChannelError(ctx, err)
		case <-reconnectC:
			t.reconnectTimer = nil
			t.openChannel(ctx)
		case <-pollC:
			t.pollTimer = nil
			t.poll(ctx)
		case r := <-t.pollResults:
			t.handlePoll(ctx, r)
		}
	}
}

func (t *Tracker) transition(to TrackerState) bool {
	from := t.state
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		t.log.Warn("illegal transition ignored",
			applogger.String("job", t.jobID),
			applogger.String("from", from.String()),
			applogger.String("to", to.String()),
		)
		return false
	}
	t.state = to
	t.current.Store(int32(to))
	t.mx.RecordTransition(from.String(), to.String())
	t.log.Debug("transition",
		applogger.String("job", t.jobID),
		applogger.String("from", from.String()),
		applogger.String("to", to.String()),
	)
	if to.Terminal() {
		t.releaseTransport()
		t.log.Info("job finished",
			applogger.String("job", t.jobID),
			applogger.String("state", to.String()),
			applogger.Error(t.err),
		)
	}
	return true
}

func (t *Tracker) emit() {
	t.emitf(Update{
		JobID:    t.jobID,
		State:    t.state,
		Messages: t.progress.Lines(),
		Percent:  t.percent,
		Result:   t.result,
		Err:      t.err,
	})
}

func (t *Tracker) openChannel(ctx context.Context) {
	if !t.transition(StateStreaming) {
		return
	}
	t.channel = t.sub.Open(ctx, t.jobID, t.lang)
	t.emit()
}

func (t *Tracker) handlePayload(payload []byte) {
	ev, err := models.ParseProgressEvent(payload)
	if err != nil {
		t.mx.RecordError("parse")
		t.log.Warn("dropping event",
			applogger.String("job", t.jobID),
			applogger.Error(xhttp.ParseError(err)),
			applogger.String("payload", util.Truncate(string(payload), 200)),
		)
		return
	}

	switch e := ev.(type) {
	case models.Progress:
		t.reconnects = 0
		t.progress.Append(e.Message)
		t.percent = ProgressPercent(e.Message, t.progress.Len(), t.cfg.ProgressStep, t.cfg.ProgressCap)
		t.emit()
	case models.Completed:
		t.percent = 100
		t.result = e.Result
		t.transition(StateCompleted)
		t.emit()
	case models.Failed:
		t.percent = 100
		t.progress.Append("analysis failed: " + e.Error)
		t.err = &JobFailedError{Message: e.Error}
		t.transition(StateFailed)
		t.emit()
	}
}

func (t *Tracker) handleChannelError(ctx context.Context, err error) {
	if t.state != StateStreaming {
		return
	}
	t.reconnects++
	t.mx.RecordReconnect()

	if t.reconnects <= t.cfg.MaxReconnects {
		delay := t.cfg.ReconnectDelay(t.reconnects)
		t.progress.Append(fmt.Sprintf("reconnecting (%d/%d)", t.reconnects, t.cfg.MaxReconnects))
		t.log.Info("stream lost, reconnecting",
			applogger.String("job", t.jobID),
			applogger.Int("attempt", t.reconnects),
			applogger.Duration("delay_ms", delay),
			applogger.Error(err),
		)
		t.reconnectTimer = t.clock.Timer(delay)
		t.transition(StateReconnecting)
		t.emit()
		return
	}

	t.progress.Append("switching to polling")
	t.log.Info("stream unavailable, polling",
		applogger.String("job", t.jobID),
		applogger.Error(err),
	)
	t.transition(StatePolling)
	t.pollRetries = 0
	t.emit()
	t.poll(ctx)
}

func (t *Tracker) poll(ctx context.Context) {
	if t.state != StatePolling {
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	t.pollCancel = cancel
	go func() {
		resp, err := t.api.Status(pctx, t.jobID)
		// buffered for the single in-flight poll
		t.pollResults <- pollResult{resp: resp, err: err}
	}()
}

func (t *Tracker) handlePoll(ctx context.Context, r pollResult) {
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
	if t.state != StatePolling {
		return
	}

	if r.err != nil {
		if xhttp.HasCode(r.err, xhttp.CodeJobExpired) {
			t.mx.RecordPoll("expired")
			t.err = xhttp.JobExpiredError(t.jobID)
			t.transition(StateFailed)
			t.emit()
			return
		}
		t.pollRetries++
		t.mx.RecordPoll("error")
		t.log.Warn("poll failed",
			applogger.String("job", t.jobID),
			applogger.Int("retry", t.pollRetries),
			applogger.Int("max", t.cfg.PollMaxRetries),
			applogger.Error(r.err),
		)
		if t.pollRetries >= t.cfg.PollMaxRetries {
			t.err = xhttp.TimeoutError(t.pollRetries)
			t.transition(StateTimedOut)
			t.emit()
			return
		}
		t.pollTimer = t.clock.Timer(t.cfg.PollDelay(t.pollRetries))
		return
	}

	t.mx.RecordPoll("ok")
	t.pollRetries = 0
	t.progress.Replace(r.resp.Progress)
	t.percent = ProgressPercent(t.progress.Last(), t.progress.Len(), t.cfg.ProgressStep, t.cfg.ProgressCap)

	switch r.resp.Status {
	case "completed":
		t.percent = 100
		t.result = r.resp.Result
		t.transition(StateCompleted)
	case "failed":
		t.percent = 100
		t.err = &JobFailedError{Message: r.resp.Error}
		t.transition(StateFailed)
	default:
		t.pollTimer = t.clock.Timer(t.cfg.PollDelay(t.pollRetries))
	}
	t.emit()
}

// cancel moves to Cancelled and sends the best-effort backend notice.
func (t *Tracker) cancel(from TrackerState) {
	if t.state.Terminal() {
		return
	}
	t.transition(StateCancelled)
	t.emit()
	if from == StateIdle {
		return
	}

	id := t.jobID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CancelTimeout)
		defer cancel()
		if err := t.api.Cancel(ctx, id); err != nil {
			t.log.Debug("cancel notice failed", applogger.String("job", id), applogger.Error(err))
		}
	}()
}

// releaseTransport closes the channel and clears both timers.
func (t *Tracker) releaseTransport() {
	if t.channel != nil {
		_ = t.channel.Close()
		t.channel = nil
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	if t.pollTimer != nil {
		t.pollTimer.Stop()
		t.pollTimer = nil
	}
	if t.pollCancel != nil {
		t.pollCancel()
		t.pollCancel = nil
	}
}

func (t *Tracker) teardown() {
	t.releaseTransport()
}
