package slogadapter

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

type Adapter struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Options controls how NewFromOptions builds the slog handler. Pretty
// selects the text handler instead of JSON.
type Options struct {
	Level  string
	Pretty bool
	Writer io.Writer
}

func NewFromOptions(opts Options) (*Adapter, error) {
	var level slog.Level
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, eris.Wrapf(err, "invalid log level %q", opts.Level)
		}
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.Pretty {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return &Adapter{logger: slog.New(handler)}, nil
}

// With returns an adapter that attaches keysAndValues to every record.
func (a *Adapter) With(keysAndValues ...any) *Adapter {
	return &Adapter{logger: a.logger.With(keysAndValues...)}
}

func (a *Adapter) Info(msg string, keysAndValues ...any) {
	a.logger.Info(msg, keysAndValues...)
}

func (a *Adapter) Error(msg string, keysAndValues ...any) {
	a.logger.Error(msg, keysAndValues...)
}

func (a *Adapter) Debug(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *Adapter) Warn(msg string, keysAndValues ...any) {
	a.logger.Warn(msg, keysAndValues...)
}
