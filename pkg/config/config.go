// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads commutator settings from a file, the environment and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

// EnvPrefix prefixes every environment override, e.g. COMMUTATOR_SERIAL_DEVICE
const EnvPrefix = "COMMUTATOR"

// SerialConfig selects the serial port
type SerialConfig struct {
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baudRate"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// WebSocketConfig selects a serial-to-WebSocket bridge
type WebSocketConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
}

// ReconnectConfig controls the reconnect supervisor
type ReconnectConfig struct {
	Enable     bool          `mapstructure:"enable"`
	MinBackoff time.Duration `mapstructure:"minBackoff"`
	MaxBackoff time.Duration `mapstructure:"maxBackoff"`
}

// LinkConfig tunes the link loops
type LinkConfig struct {
	Tick              time.Duration   `mapstructure:"tick"`
	StopTimeout       time.Duration   `mapstructure:"stopTimeout"`
	InboundQueue      int             `mapstructure:"inboundQueue"`
	RefreshOnConnect  bool            `mapstructure:"refreshOnConnect"`
	RetransmitOnReady bool            `mapstructure:"retransmitOnReady"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect"`
}

// SignalOverride changes the polling schedule of one signal at start
type SignalOverride struct {
	Cyclic    *bool         `mapstructure:"cyclic"`
	CycleTime time.Duration `mapstructure:"cycleTime"`
}

// LumberjackConfig configures the rotating log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets log level and outputs
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// HTTPConfig configures the control API server
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// MQTTConfig configures the MQTT bridge
type MQTTConfig struct {
	Enable      bool   `mapstructure:"enable"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"clientID"`
	TopicPrefix string `mapstructure:"topicPrefix"`
	QoS         byte   `mapstructure:"qos"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// Config is the top level configuration
type Config struct {
	Serial    SerialConfig              `mapstructure:"serial"`
	WebSocket WebSocketConfig           `mapstructure:"websocket"`
	Link      LinkConfig                `mapstructure:"link"`
	Signals   map[string]SignalOverride `mapstructure:"signals"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	HTTP      HTTPConfig                `mapstructure:"http"`
	MQTT      MQTTConfig                `mapstructure:"mqtt"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-"`
}

// flagKeys maps persistent flag names to config keys
var flagKeys = map[string]string{
	"port":          "serial.device",
	"baud":          "serial.baudRate",
	"url":           "websocket.url",
	"username":      "websocket.username",
	"no-ssl-verify": "websocket.noSSLVerify",
	"log-level":     "logging.level",
}

// Load reads the configuration. path wins over $COMMUTATOR_CONFIG; without
// either, commutator.yaml is searched in . and ./configs and may be absent.
// Flags that were set on the command line override everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("commutator")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baudRate", 115200)
	v.SetDefault("serial.readTimeout", "50ms")

	v.SetDefault("websocket.url", "")
	v.SetDefault("websocket.username", "")
	v.SetDefault("websocket.noSSLVerify", false)

	v.SetDefault("link.tick", "2ms")
	v.SetDefault("link.stopTimeout", "2s")
	v.SetDefault("link.inboundQueue", 256)
	v.SetDefault("link.refreshOnConnect", true)
	v.SetDefault("link.retransmitOnReady", true)
	v.SetDefault("link.reconnect.enable", true)
	v.SetDefault("link.reconnect.minBackoff", "1s")
	v.SetDefault("link.reconnect.maxBackoff", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 20)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientID", "commutator")
	v.SetDefault("mqtt.topicPrefix", "commutator")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
}

// Validate checks values that cannot be caught by unmarshalling
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baudRate must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Link.Tick <= 0 {
		return fmt.Errorf("link.tick must be positive, got %s", c.Link.Tick)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// Device returns the device to connect to: the WebSocket URL when set,
// otherwise the serial port
func (c *Config) Device() string {
	if c.WebSocket.URL != "" {
		return c.WebSocket.URL
	}
	return c.Serial.Device
}

// LinkOptions converts the link section for link.WithConfig
func (c *Config) LinkOptions() link.Config {
	return link.Config{
		Tick:              c.Link.Tick,
		StopTimeout:       c.Link.StopTimeout,
		InboundQueue:      c.Link.InboundQueue,
		RefreshOnConnect:  c.Link.RefreshOnConnect,
		RetransmitOnReady: c.Link.RetransmitOnReady,
	}
}

// DialConfig converts the transport sections. The WebSocket password is
// never read from config; pass it in.
func (c *Config) DialConfig(password string) link.DialConfig {
	return link.DialConfig{
		BaudRate:      c.Serial.BaudRate,
		ReadTimeout:   c.Serial.ReadTimeout,
		Username:      c.WebSocket.Username,
		Password:      password,
		SkipSSLVerify: c.WebSocket.NoSSLVerify,
	}
}

// ApplySignalOverrides sets the configured polling schedules on table
func (c *Config) ApplySignalOverrides(table *signals.Table) error {
	for name, o := range c.Signals {
		s, ok := table.ByName(name)
		if !ok {
			return fmt.Errorf("signals.%s: %w", name, signals.ErrUnknownSignal)
		}
		cyclic := s.State().Cyclic
		if o.Cyclic != nil {
			cyclic = *o.Cyclic
		}
		s.SetSchedule(cyclic, o.CycleTime)
	}
	return nil
}
