// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Configuration snapshot for a dispatcher thread and its event loop, loaded
// from defaults, an optional config file, flags and NETDISPATCH_* environment
// variables.

package control

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// CPU selectors besides an explicit core index.
const (
	// CPUAuto pins to the last CPU the process may run on.
	CPUAuto = -1
	// CPUNone disables pinning.
	CPUNone = -2
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NETDISPATCH"

// Config keys.
const (
	KeyThreadName = "thread_name"
	KeyCPU        = "cpu"
	KeyMaxWait    = "max_wait"
	KeyMaxEvents  = "max_events"
	KeyLogLevel   = "log_level"
)

// Config is an immutable snapshot of the tunables.
type Config struct {
	ThreadName string
	CPU        int
	MaxWait    time.Duration
	MaxEvents  int
	LogLevel   string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ThreadName: "dispatcher",
		CPU:        CPUAuto,
		MaxWait:    time.Second,
		MaxEvents:  128,
		LogLevel:   "info",
	}
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyThreadName, d.ThreadName)
	v.SetDefault(KeyCPU, d.CPU)
	v.SetDefault(KeyMaxWait, d.MaxWait)
	v.SetDefault(KeyMaxEvents, d.MaxEvents)
	v.SetDefault(KeyLogLevel, d.LogLevel)
}

// LoadConfig reads a snapshot from v, applying defaults and environment
// overrides. A nil v uses a fresh instance.
func LoadConfig(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Config{
		ThreadName: v.GetString(KeyThreadName),
		CPU:        v.GetInt(KeyCPU),
		MaxWait:    v.GetDuration(KeyMaxWait),
		MaxEvents:  v.GetInt(KeyMaxEvents),
		LogLevel:   v.GetString(KeyLogLevel),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the snapshot for values the components cannot use.
func (c Config) Validate() error {
	var errs []error
	if c.ThreadName == "" {
		errs = append(errs, errors.New("thread_name must not be empty"))
	}
	if c.CPU < CPUNone {
		errs = append(errs, fmt.Errorf("cpu %d: want a core index, %d (auto) or %d (none)", c.CPU, CPUAuto, CPUNone))
	}
	if c.MaxWait <= 0 {
		errs = append(errs, fmt.Errorf("max_wait %s must be positive", c.MaxWait))
	}
	if c.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("max_events %d must be positive", c.MaxEvents))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("control: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the zerolog level named by LogLevel, info if unparsable.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
