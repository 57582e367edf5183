package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sync"

	"TradeDesk/internal/domain/models"
	drepo "TradeDesk/internal/domain/repository"
	xhttp "TradeDesk/pkg/http"
	applogger "TradeDesk/pkg/logger"
)

// ErrStreamClosed is reported when the server ends the stream.
var ErrStreamClosed = errors.New("event stream closed by server")

// Stream opens text/event-stream channels for a job.
type Stream struct {
	http *xhttp.Client
	log  *applogger.Logger
}

var _ drepo.EventStream = (*Stream)(nil)

// NewStream creates the push transport.
func NewStream(hc *xhttp.Client, log *applogger.Logger) *Stream {
	return &Stream{http: hc, log: log.Named("stream")}
}

// Open connects in the background and returns immediately.
func (s *Stream) Open(ctx context.Context, jobID string, lang models.Lang) drepo.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		msgs:   make(chan []byte, 64),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	go sub.run(ctx, s, jobID, lang)
	return sub
}

type subscription struct {
	msgs   chan []byte
	errs   chan error
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Messages() <-chan []byte { return s.msgs }
func (s *subscription) Errors() <-chan error    { return s.errs }

// Close stops the read loop; no error is reported for a local close.
func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *subscription) run(ctx context.Context, st *Stream, jobID string, lang models.Lang) {
	defer close(s.errs)
	defer close(s.msgs)

	resp, err := st.http.OpenStream(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		Path:        "/api/analysis/" + url.PathEscape(jobID) + "/stream",
		QueryParams: map[string][]string{"lang": {string(lang)}},
		Headers:     map[string]string{"Accept-Language": string(lang)},
	})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	defer resp.Body.Close()

	err = ReadEvents(resp.Body, func(payload []byte) bool {
		select {
		case s.msgs <- payload:
			return true
		case <-ctx.Done():
			return false
		}
	})
	if err == nil {
		err = ErrStreamClosed
	}
	s.fail(ctx, xhttp.TransportError(err))
}

// fail reports err unless the subscription was closed locally.
func (s *subscription) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	s.errs <- err
}

// ReadEvents splits an event stream into payloads and hands each to emit until it
// returns false. It understands "data:" frames terminated by a blank line (multiple
// data lines are joined with "\n"), skips ":" comments and other fields, and also
// accepts bare newline-delimited JSON. It returns nil on EOF.
func ReadEvents(r io.Reader, emit func([]byte) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data [][]byte
	flush := func() bool {
		if len(data) == 0 {
			return true
		}
		payload := bytes.Join(data, []byte("\n"))
		data = data[:0]
		return emit(payload)
	}

	for sc.Scan() {
		line := bytes.TrimRight(sc.Bytes(), "\r")
		switch {
		case len(line) == 0:
			if !flush() {
				return nil
			}
		case line[0] == ':':
			// comment / heartbeat
		case bytes.HasPrefix(line, []byte("data:")):
			v := bytes.TrimPrefix(line[5:], []byte(" "))
			data = append(data, append([]byte(nil), v...))
		case line[0] == '{':
			if !flush() {
				return nil
			}
			if !emit(append([]byte(nil), line...)) {
				return nil
			}
		default:
			// event:, id:, retry: are not used by the backend
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
