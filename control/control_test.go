package control

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("NETDISPATCH_THREAD_NAME", "net-0")
	t.Setenv("NETDISPATCH_CPU", "3")
	t.Setenv("NETDISPATCH_MAX_WAIT", "250ms")
	t.Setenv("NETDISPATCH_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, "net-0", cfg.ThreadName)
	assert.Equal(t, 3, cfg.CPU)
	assert.Equal(t, 250*time.Millisecond, cfg.MaxWait)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoadConfig_ExplicitValues(t *testing.T) {
	v := viper.New()
	v.Set(KeyMaxEvents, 16)
	v.Set(KeyCPU, CPUNone)

	cfg, err := LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxEvents)
	assert.Equal(t, CPUNone, cfg.CPU)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThreadName = ""
	cfg.MaxWait = 0
	cfg.LogLevel = "chatty"
	cfg.CPU = -7

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread_name")
	assert.Contains(t, err.Error(), "max_wait")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "cpu -7")
}

func TestDispatcherMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatcherMetrics(reg, "d0")

	m.JobDone()
	m.JobDone()
	m.JobPanicked()
	m.Interrupted()
	m.Dispatched()
	m.SetQueueDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobPanicsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InterruptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchRoundsTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestDispatcherMetrics_TwoThreadsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewDispatcherMetrics(reg, "a")
	assert.NotPanics(t, func() { NewDispatcherMetrics(reg, "b") })
}

func TestDispatcherMetrics_NilSafe(t *testing.T) {
	var m *DispatcherMetrics
	assert.NotPanics(t, func() {
		m.JobDone()
		m.JobPanicked()
		m.Interrupted()
		m.Dispatched()
		m.SetQueueDepth(1)
	})
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return "x" })

	assert.Equal(t, []string{"a", "b"}, dp.Names())
	assert.Equal(t, map[string]any{"a": "x", "b": 2}, dp.DumpState())

	dp.UnregisterProbe("a")
	assert.Equal(t, []string{"b"}, dp.Names())
}

func TestRegisterPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)

	state := dp.DumpState()
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, state, "platform.allowed_cpus")
	assert.Positive(t, state["platform.cpus"])
}
