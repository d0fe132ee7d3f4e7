package config

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlagSet(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvThenFlags(t *testing.T) {
	env := envMap(map[string]string{
		"EVLOOP_PORT":         "9000",
		"EVLOOP_ROOT":         "/srv/www",
		"EVLOOP_DEBUG":        "true",
		"EVLOOP_IDLE_TIMEOUT": "30",
		"EVLOOP_RATE_LIMIT":   "500",
	})

	cfg, err := Load(newFlagSet(), []string{"-port", "9100", "-env", "production"}, env)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port, "flag wins over environment")
	assert.Equal(t, "/srv/www", cfg.Root)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.WriteTimeoutDuration())
	assert.Equal(t, 500, cfg.RateLimit)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"bad env int", nil, map[string]string{"EVLOOP_PORT": "http"}},
		{"bad env bool", nil, map[string]string{"EVLOOP_DEBUG": "maybe"}},
		{"port range", []string{"-port", "70000"}, nil},
		{"buffer size", []string{"-buffer-size", "0"}, nil},
		{"stats path", []string{"-stats-path", "stats"}, nil},
		{"rate limit", []string{"-rate-limit", "-1"}, nil},
		{"unknown flag", []string{"-nope"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newFlagSet(), tt.args, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}
