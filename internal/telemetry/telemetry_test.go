package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/internal/telemetry"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{ServiceName: "notifyd"}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
