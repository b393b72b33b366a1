package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"homerobot/algorithms"
)

const EnvPrefix = "HOMEROBOT"

// Config holds the resolved configuration of every subcommand.
//
//nolint:lll // readability
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Transport TransportConfig `mapstructure:"transport"`
	Robot     RobotConfig     `mapstructure:"robot"`
	Control   ControlConfig   `mapstructure:"control"`
	Session   SessionConfig   `mapstructure:"session"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // zap level name
	Format string `mapstructure:"format"` // json or text
}

type RelayConfig struct {
	Addr         string        `mapstructure:"addr"`          // listen address of the relay server
	AllowOrigins string        `mapstructure:"allow-origins"` // CORS origins
	PeerTimeout  time.Duration `mapstructure:"peer-timeout"`  // peers silent for longer are dropped
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// Enabled reports whether enough is configured to open a connection.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" && d.User != "" && d.Name != ""
}

// DSN builds the go-sql-driver/mysql connection string.
func (d DatabaseConfig) DSN() string {
	port := d.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, port, d.Name)
}

type JournalConfig struct {
	FlushSize     int           `mapstructure:"flush-size"`     // rows per batch insert
	FlushInterval time.Duration `mapstructure:"flush-interval"` // forced flush period
}

type TransportConfig struct {
	Kind           string        `mapstructure:"kind"`      // websocket, webrtc or nats
	RelayURL       string        `mapstructure:"relay-url"` // base URL of the relay server
	Room           string        `mapstructure:"room"`
	PeerID         string        `mapstructure:"peer-id"` // generated when empty
	NatsURL        string        `mapstructure:"nats-url"`
	ICEServers     []string      `mapstructure:"ice-servers"`
	ReconnectDelay time.Duration `mapstructure:"reconnect-delay"`
	SendTimeout    time.Duration `mapstructure:"send-timeout"` // reliable sends only
}

type RobotConfig struct {
	Simulate      bool          `mapstructure:"simulate"`
	Bridge        bool          `mapstructure:"bridge"` // execute DriveMotor only, the peer runs the waypoint loop
	SerialPort    string        `mapstructure:"serial-port"`
	BaudRate      int           `mapstructure:"baud-rate"`
	PoseListen    string        `mapstructure:"pose-listen"`  // UDP address of the AR tracker feed
	PoseMaxAge    time.Duration `mapstructure:"pose-max-age"` // tracker poses older than this are ignored
	MapID         string        `mapstructure:"map-id"`       // map reported by the simulator
	MaxWheelSpeed float64       `mapstructure:"max-wheel-speed"`
	TrackWidth    float64       `mapstructure:"track-width"`
}

type ControlConfig struct {
	Rate  float64                `mapstructure:"rate"` // control loop frequency (Hz)
	Drive algorithms.DriveParams `mapstructure:"drive"`
}

type SessionConfig struct {
	BroadcastRate   float64       `mapstructure:"broadcast-rate"`   // pose broadcast frequency (Hz)
	SyncFreshness   time.Duration `mapstructure:"sync-freshness"`   // max age of the peer pose for sync
	WaypointSpacing time.Duration `mapstructure:"waypoint-spacing"` // delay between queued waypoint sends
	MarkerRetention int           `mapstructure:"marker-retention"` // completed markers kept on the board
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Relay: RelayConfig{
			Addr:         ":3000",
			AllowOrigins: "*",
			PeerTimeout:  30 * time.Second,
		},
		Database: DatabaseConfig{Port: 3306},
		Journal:  JournalConfig{FlushSize: 50, FlushInterval: 10 * time.Second},
		Transport: TransportConfig{
			Kind:           "websocket",
			RelayURL:       "http://localhost:3000",
			Room:           "home",
			NatsURL:        "nats://127.0.0.1:4222",
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
			ReconnectDelay: 2 * time.Second,
			SendTimeout:    10 * time.Second,
		},
		Robot: RobotConfig{
			BaudRate:      115200,
			PoseListen:    "127.0.0.1:9870",
			PoseMaxAge:    500 * time.Millisecond,
			MapID:         "sim-map",
			MaxWheelSpeed: 0.5,
			TrackWidth:    0.2,
		},
		Control: ControlConfig{Rate: 15, Drive: algorithms.DefaultDriveParams()},
		Session: SessionConfig{
			BroadcastRate:   15,
			SyncFreshness:   2 * time.Second,
			WaypointSpacing: 150 * time.Millisecond,
			MarkerRetention: 256,
		},
	}
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"log.level":                        d.Log.Level,
		"log.format":                       d.Log.Format,
		"relay.addr":                       d.Relay.Addr,
		"relay.allow-origins":              d.Relay.AllowOrigins,
		"relay.peer-timeout":               d.Relay.PeerTimeout,
		"database.host":                    d.Database.Host,
		"database.port":                    d.Database.Port,
		"database.user":                    d.Database.User,
		"database.password":                d.Database.Password,
		"database.name":                    d.Database.Name,
		"journal.flush-size":               d.Journal.FlushSize,
		"journal.flush-interval":           d.Journal.FlushInterval,
		"transport.kind":                   d.Transport.Kind,
		"transport.relay-url":              d.Transport.RelayURL,
		"transport.room":                   d.Transport.Room,
		"transport.peer-id":                d.Transport.PeerID,
		"transport.nats-url":               d.Transport.NatsURL,
		"transport.ice-servers":            d.Transport.ICEServers,
		"transport.reconnect-delay":        d.Transport.ReconnectDelay,
		"transport.send-timeout":           d.Transport.SendTimeout,
		"robot.simulate":                   d.Robot.Simulate,
		"robot.bridge":                     d.Robot.Bridge,
		"robot.pose-max-age":               d.Robot.PoseMaxAge,
		"robot.serial-port":                d.Robot.SerialPort,
		"robot.baud-rate":                  d.Robot.BaudRate,
		"robot.pose-listen":                d.Robot.PoseListen,
		"robot.map-id":                     d.Robot.MapID,
		"robot.max-wheel-speed":            d.Robot.MaxWheelSpeed,
		"robot.track-width":                d.Robot.TrackWidth,
		"control.rate":                     d.Control.Rate,
		"control.drive.arrival-threshold":  d.Control.Drive.ArrivalThreshold,
		"control.drive.max-turn-angle":     d.Control.Drive.MaxTurnAngle,
		"control.drive.turn-power":         d.Control.Drive.TurnPower,
		"control.drive.base-speed":         d.Control.Drive.BaseSpeed,
		"control.drive.speed-gain":         d.Control.Drive.SpeedGain,
		"control.drive.speed-distance-cap": d.Control.Drive.SpeedDistanceCap,
		"control.drive.inner-frac":         d.Control.Drive.InnerFrac,
		"control.drive.turn-exponent":      d.Control.Drive.TurnExponent,
		"control.drive.smoothing":          d.Control.Drive.Smoothing,
		"session.broadcast-rate":           d.Session.BroadcastRate,
		"session.sync-freshness":           d.Session.SyncFreshness,
		"session.waypoint-spacing":         d.Session.WaypointSpacing,
		"session.marker-retention":         d.Session.MarkerRetention,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance reading HOMEROBOT_* variables, e.g.
// HOMEROBOT_TRANSPORT_RELAY_URL for transport.relay-url.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "websocket", "webrtc", "nats":
	default:
		return fmt.Errorf("transport.kind %q: want websocket, webrtc or nats", c.Transport.Kind)
	}
	if c.Control.Rate <= 0 {
		return fmt.Errorf("control.rate must be positive, got %v", c.Control.Rate)
	}
	if c.Session.BroadcastRate <= 0 {
		return fmt.Errorf("session.broadcast-rate must be positive, got %v", c.Session.BroadcastRate)
	}
	if s := c.Control.Drive.Smoothing; s <= 0 || s > 1 {
		return fmt.Errorf("control.drive.smoothing must be in (0, 1], got %v", s)
	}
	if c.Control.Drive.MaxTurnAngle <= 0 {
		return fmt.Errorf("control.drive.max-turn-angle must be positive, got %v", c.Control.Drive.MaxTurnAngle)
	}
	return nil
}

// Interval converts a frequency in Hz to a ticker period.
func Interval(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}
