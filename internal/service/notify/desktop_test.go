package notify

import (
	"errors"
	"testing"

	applogger "TradeDesk/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	titles []string
	err    error
}

func (r *recorder) send(title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func TestDesktopNotify(t *testing.T) {
	rec := &recorder{}
	d := NewDesktop(true, applogger.Nop(), WithSender(rec.send), WithForeground(func() bool { return false }))

	require.NoError(t, d.Notify("AAPL analysis completed", "Decision: BUY"))
	assert.Equal(t, []string{"AAPL analysis completed"}, rec.titles)
	assert.False(t, d.Foreground())
}

func TestDesktopDisabledSendsNothing(t *testing.T) {
	rec := &recorder{}
	d := NewDesktop(false, applogger.Nop(), WithSender(rec.send))

	require.NoError(t, d.Notify("title", "body"))
	assert.Empty(t, rec.titles)
}

func TestDesktopSendError(t *testing.T) {
	rec := &recorder{err: errors.New("no dbus")}
	d := NewDesktop(true, nil, WithSender(rec.send))

	assert.Error(t, d.Notify("title", "body"))
}
