package notify

import (
	"os"

	"github.com/gen2brain/beeep"
	"github.com/mattn/go-isatty"

	applogger "TradeDesk/pkg/logger"
)

// Desktop raises OS notifications through beeep. A process attached to an
// interactive terminal counts as foregrounded, since progress is already on
// screen there.
type Desktop struct {
	enabled    bool
	foreground func() bool
	send       func(title, body string) error
	log        *applogger.Logger
}

// Option configures Desktop.
type Option func(*Desktop)

// WithForeground replaces terminal detection.
func WithForeground(f func() bool) Option {
	return func(d *Desktop) { d.foreground = f }
}

// WithSender replaces the beeep call.
func WithSender(f func(title, body string) error) Option {
	return func(d *Desktop) { d.send = f }
}

// NewDesktop creates a notifier. enabled=false acts as a denied permission.
func NewDesktop(enabled bool, log *applogger.Logger, opts ...Option) *Desktop {
	d := &Desktop{
		enabled:    enabled,
		foreground: stdoutIsTerminal,
		send:       func(title, body string) error { return beeep.Notify(title, body, "") },
		log:        log.Named("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Foreground reports whether the user is already looking at the output.
func (d *Desktop) Foreground() bool {
	return d.foreground()
}

// Notify sends a notification unless notifications are disabled.
func (d *Desktop) Notify(title, body string) error {
	if !d.enabled {
		return nil
	}
	if err := d.send(title, body); err != nil {
		d.log.Warn("desktop notification failed", applogger.Error(err))
		return err
	}
	d.log.Debug("notification sent", applogger.String("title", title))
	return nil
}
