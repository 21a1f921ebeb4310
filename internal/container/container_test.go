package container

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theo-quoter/config"
)

func testAppConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.AppConfig{
		Env:         "paper",
		Instruments: config.InstrumentsConfig{Primary: "A", Linked: "B"},
	}
	config.ApplyDefaults(&cfg)
	cfg.Loop.Interval = 10 * time.Millisecond
	cfg.Loop.SeedStats = true
	cfg.Log.Level = "error"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Telemetry.Addr = "127.0.0.1:0"
	cfg.Journal.DSN = ":memory:"
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestContainerLifecycle(t *testing.T) {
	c := NewWithConfig(testAppConfig(t))
	require.NoError(t, c.Build())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.HealthCheck())

	for i := 0; i < 3; i++ {
		rep, err := c.Engine().RunCycle(ctx)
		require.NoError(t, err)
		assert.False(t, rep.Skipped)
	}

	resp, err := http.Get("http://" + c.MetricsAddr())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "quoter_engine_cycles_total 3"), "metrics output: %s", body)
	assert.NotEmpty(t, c.TelemetryAddr())

	require.NoError(t, c.Stop())
	for _, id := range []string{"A", "B"} {
		assert.Empty(t, c.Exchange().Resting(id))
	}
}

func TestContainerRejectsNonPaperEnv(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Env = "live"
	c := NewWithConfig(cfg)
	err := c.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper")
}

func TestLifecycleRollbackOnFailure(t *testing.T) {
	m := NewLifecycleManager()
	first := &fakeComponent{}
	m.Register(first)
	m.Register(&fakeComponent{startErr: assert.AnError})

	err := m.StartAll(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, first.stopped)
}

type fakeComponent struct {
	startErr error
	stopped  bool
}

func (f *fakeComponent) Start(context.Context) error { return f.startErr }
func (f *fakeComponent) Stop() error                 { f.stopped = true; return nil }
func (f *fakeComponent) Health() error               { return nil }
