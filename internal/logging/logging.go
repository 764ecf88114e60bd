package logging

import (
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var ErrInvalidLogFormat = errors.New("invalid log format, must be one of 'json' or 'console'")

func CreateLogger(level zerolog.Level, format string, out io.Writer) (zerolog.Logger, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	switch format {
	case "json":
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
	case "console":
		return zerolog.New(
			zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
				w.Out = out
				w.TimeFormat = time.RFC3339
			})).Level(level).With().Timestamp().Logger(), nil
	default:
		return zerolog.Logger{}, ErrInvalidLogFormat
	}
}
