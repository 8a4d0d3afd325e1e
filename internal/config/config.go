// Package config layers trigger-capture settings from defaults, a YAML file,
// TRIGCAP_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TRIGCAP_TRIGGER_SOURCE for
// trigger.source.
const EnvPrefix = "TRIGCAP"

// Sink kinds.
const (
	SinkRaw     = "raw"
	SinkMsgpack = "msgpack"
	SinkDiscard = "discard"
)

// Settings is the file/env/flag view of a capture run.
type Settings struct {
	Device             string          `mapstructure:"device"`
	Trigger            TriggerSettings `mapstructure:"trigger"`
	PixelFormat        string          `mapstructure:"pixel_format"`
	Buffers            int             `mapstructure:"buffers"`
	PreTriggers        int             `mapstructure:"pre_triggers"`
	PreTriggerInterval time.Duration   `mapstructure:"pre_trigger_interval"`
	StreamOnSettle     time.Duration   `mapstructure:"stream_on_settle"`
	PollInterval       time.Duration   `mapstructure:"poll_interval"`
	MaxFrames          int             `mapstructure:"max_frames"`
	VerifyReopen       bool            `mapstructure:"verify_reopen"`
	ReopenSettle       time.Duration   `mapstructure:"reopen_settle"`
	ReopenHold         time.Duration   `mapstructure:"reopen_hold"`
	// WaitDevice waits up to this long for the device node; 0 does not wait
	WaitDevice time.Duration   `mapstructure:"wait_device"`
	Output     OutputSettings  `mapstructure:"output"`
	Metrics    MetricsSettings `mapstructure:"metrics"`
	MQTT       MQTTSettings    `mapstructure:"mqtt"`
	Log        LogSettings     `mapstructure:"log"`
}

type TriggerSettings struct {
	Source     string `mapstructure:"source"`
	Activation string `mapstructure:"activation"`
}

type OutputSettings struct {
	Dir  string `mapstructure:"dir"`
	Sink string `mapstructure:"sink"` // raw, msgpack or discard
}

type MetricsSettings struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

type MQTTSettings struct {
	Broker   string `mapstructure:"broker"` // empty disables event publishing
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type LogSettings struct {
	Debug bool `mapstructure:"debug"`
	JSON  bool `mapstructure:"json"`
}

// SetDefaults registers the defaults of a field run on v.
func SetDefaults(v *viper.Viper) {
	d := triggercapture.DefaultConfig("")

	v.SetDefault("device", "/dev/video0")
	v.SetDefault("trigger.source", d.Trigger.Source.String())
	v.SetDefault("trigger.activation", d.Trigger.Activation.String())
	v.SetDefault("pixel_format", d.PixelFormat.String())
	v.SetDefault("buffers", d.BufferCount)
	v.SetDefault("pre_triggers", d.PreTriggers)
	v.SetDefault("pre_trigger_interval", d.PreTriggerInterval)
	v.SetDefault("stream_on_settle", d.StreamOnSettle)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("max_frames", d.MaxFrames)
	v.SetDefault("verify_reopen", d.VerifyReopen)
	v.SetDefault("reopen_settle", d.ReopenSettle)
	v.SetDefault("reopen_hold", d.ReopenHold)
	v.SetDefault("wait_device", time.Duration(0))

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.sink", SinkRaw)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "trigger-capture")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.json", false)
}

// DefaultSettings returns the settings SetDefaults registers.
func DefaultSettings() Settings {
	v := viper.New()
	SetDefaults(v)
	var s Settings
	_ = v.Unmarshal(&s)
	return s
}

// NewViper returns a viper with defaults and env overrides set, reading
// configFile when given. Without configFile, ./trigger-capture.yaml and
// /etc/trigger-capture/trigger-capture.yaml are read if present.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("trigger-capture")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/trigger-capture")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", describe(configFile), err)
		}
	}
	return v, nil
}

func describe(configFile string) string {
	if configFile == "" {
		return "config file"
	}
	return configFile
}

// Load unmarshals v into Settings and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if errs := s.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &s, nil
}

// SessionConfig converts the settings into a validated session Config.
func (s *Settings) SessionConfig() (triggercapture.Config, error) {
	cfg := triggercapture.DefaultConfig(s.Device)

	src, err := triggercapture.ParseTriggerSource(s.Trigger.Source)
	if err != nil {
		return cfg, err
	}
	act, err := triggercapture.ParseTriggerActivation(s.Trigger.Activation)
	if err != nil {
		return cfg, err
	}
	pixfmt, err := triggercapture.NewFourCC(s.PixelFormat)
	if err != nil {
		return cfg, err
	}

	cfg.Trigger = triggercapture.TriggerConfig{Source: src, Activation: act}
	cfg.PixelFormat = pixfmt
	cfg.BufferCount = s.Buffers
	cfg.PreTriggers = s.PreTriggers
	cfg.PreTriggerInterval = s.PreTriggerInterval
	cfg.StreamOnSettle = s.StreamOnSettle
	cfg.PollInterval = s.PollInterval
	cfg.MaxFrames = s.MaxFrames
	cfg.VerifyReopen = s.VerifyReopen
	cfg.ReopenSettle = s.ReopenSettle
	cfg.ReopenHold = s.ReopenHold

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
