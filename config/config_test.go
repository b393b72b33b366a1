package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.InDelta(t, 0.15, cfg.Control.Drive.ArrivalThreshold, 1e-12)
	assert.Equal(t, 2*time.Second, cfg.Session.SyncFreshness)
	assert.Equal(t, 500*time.Millisecond, cfg.Robot.PoseMaxAge)
	assert.False(t, cfg.Robot.Bridge)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOMEROBOT_TRANSPORT_KIND", "nats")
	t.Setenv("HOMEROBOT_TRANSPORT_RELAY_URL", "http://relay:4000")
	t.Setenv("HOMEROBOT_CONTROL_DRIVE_TURN_POWER", "0.5")
	t.Setenv("HOMEROBOT_SESSION_SYNC_FRESHNESS", "3s")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "nats", cfg.Transport.Kind)
	assert.Equal(t, "http://relay:4000", cfg.Transport.RelayURL)
	assert.InDelta(t, 0.5, cfg.Control.Drive.TurnPower, 1e-12)
	assert.Equal(t, 3*time.Second, cfg.Session.SyncFreshness)
	assert.InDelta(t, 0.62, Default().Control.Drive.TurnPower, 1e-12)
}

func TestLoadYAML(t *testing.T) {
	v := NewViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
database:
  host: db
  user: robot
  password: secret
  name: homerobot
control:
  rate: 20
  drive:
    max-turn-angle: 45
`)))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "robot:secret@tcp(db:3306)/homerobot?charset=utf8mb4&parseTime=True&loc=Local", cfg.Database.DSN())
	assert.InDelta(t, 20.0, cfg.Control.Rate, 1e-12)
	assert.InDelta(t, 45.0, cfg.Control.Drive.MaxTurnAngle, 1e-12)
	assert.InDelta(t, 0.2, cfg.Control.Drive.Smoothing, 1e-12)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"rate", func(c *Config) { c.Control.Rate = 0 }},
		{"broadcast", func(c *Config) { c.Session.BroadcastRate = -1 }},
		{"smoothing", func(c *Config) { c.Control.Drive.Smoothing = 1.5 }},
		{"turn angle", func(c *Config) { c.Control.Drive.MaxTurnAngle = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Interval(10))
	assert.Equal(t, time.Duration(66666666), Interval(15))
}
