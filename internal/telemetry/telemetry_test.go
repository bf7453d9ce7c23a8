package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate(), "disabled config is always valid")

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no endpoint", func(c *Config) { c.Endpoint = "" }},
		{"no service", func(c *Config) { c.ServiceName = "" }},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }},
		{"sample rate", func(c *Config) { c.SampleRate = 1.5 }},
		{"metrics interval", func(c *Config) { c.MetricsInterval = 0 }},
		{"shutdown", func(c *Config) { c.ShutdownTimeout = 0 }},
		{"insecure remote", func(c *Config) { c.Endpoint = "collector.example.com:4317" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDefaultConfig()
			c.Enabled = true
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestIsLocal(t *testing.T) {
	for _, ep := range []string{"localhost:4317", "127.0.0.1:4317", "[::1]:4317", "http://localhost:4318", "127.0.0.5"} {
		assert.True(t, isLocal(ep), ep)
	}
	for _, ep := range []string{"otel.example.com:4317", "10.0.0.4:4317"} {
		assert.False(t, isLocal(ep), ep)
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_Enabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.MetricsInterval = time.Hour

	// Exporters connect lazily, so no collector is needed.
	tel, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, tel.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestNew_Invalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = -1
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestInstallSpanRecorder(t *testing.T) {
	rec := InstallSpanRecorder(t)

	_, span := rec.Tracer("test").Start(context.Background(), "cycle.collect")
	span.SetAttributes(attribute.String("corporation_id", "98000001"))
	span.End()

	got := rec.Span("cycle.collect")
	require.NotNil(t, got)
	assert.Equal(t, "98000001", Attr(got, "corporation_id").AsString())
	assert.Nil(t, rec.Span("missing"))
}
