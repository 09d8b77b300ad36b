package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/swarmflow/config"
)

func TestSetup_DisabledStaysNoop(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_NilLogger(t *testing.T) {
	t.Parallel()

	p, err := Setup(context.Background(), config.TelemetryConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}

func TestProviders_NilShutdownIsSafe(t *testing.T) {
	t.Parallel()

	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("test"))
}

func TestNormalize_FillsDefaultsAndClamps(t *testing.T) {
	t.Parallel()

	cfg := config.TelemetryConfig{SampleRate: 3.5}
	normalize(&cfg)
	def := config.DefaultTelemetryConfig()
	assert.Equal(t, def.OTLPEndpoint, cfg.OTLPEndpoint)
	assert.Equal(t, def.ServiceName, cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)

	cfg = config.TelemetryConfig{OTLPEndpoint: "collector:4317", ServiceName: "svc", SampleRate: -1}
	normalize(&cfg)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "svc", cfg.ServiceName)
	assert.Equal(t, 0.0, cfg.SampleRate)
}
