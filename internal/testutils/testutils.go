package testutils

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLogger(tb testing.TB) *zerolog.Logger {
	tb.Helper()

	logger := zerolog.New(zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(tb)))
	return &logger
}
