package push

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var fixedTime = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}
