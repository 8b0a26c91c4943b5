package zerologadapter

import (
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type Adapter struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Options controls how NewFromOptions builds the underlying zerolog logger.
type Options struct {
	Level  string
	Pretty bool
	Writer io.Writer
}

func NewFromOptions(opts Options) (*Adapter, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid log level %q", opts.Level)
		}
		level = l
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Adapter{logger: logger}, nil
}

// With returns an adapter that attaches keysAndValues to every event.
func (a *Adapter) With(keysAndValues ...any) *Adapter {
	return &Adapter{logger: a.logger.With().Fields(keysAndValues).Logger()}
}

func (a *Adapter) Info(msg string, keysAndValues ...any) {
	a.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (a *Adapter) Error(msg string, keysAndValues ...any) {
	a.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (a *Adapter) Debug(msg string, keysAndValues ...any) {
	a.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (a *Adapter) Warn(msg string, keysAndValues ...any) {
	a.logger.Warn().Fields(keysAndValues).Msg(msg)
}
