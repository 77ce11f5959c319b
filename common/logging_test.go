package common

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLogger(t *testing.T) {
	log := SetupLogger(&LoggingOpts{Debug: true, JSON: true, Service: "artifacts", Version: Version})
	assert.NotNil(t, log)
	assert.True(t, log.Handler().Enabled(context.Background(), slog.LevelDebug))

	log = SetupLogger(&LoggingOpts{})
	assert.False(t, log.Handler().Enabled(context.Background(), slog.LevelDebug))
}
