package config

import (
	"fmt"
	"strings"

	triggercapture "github.com/e7canasta/trigger-capture"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string // settings key, e.g. "trigger.source"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks the settings that Config.Validate cannot see (names,
// sinks, output) and the ranges an operator is most likely to get wrong.
func (s *Settings) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if s.Device == "" {
		add("device", s.Device, "device path is required")
	}
	if _, err := triggercapture.ParseTriggerSource(s.Trigger.Source); err != nil {
		add("trigger.source", s.Trigger.Source, "must be software, line0 or line1")
	}
	if _, err := triggercapture.ParseTriggerActivation(s.Trigger.Activation); err != nil {
		add("trigger.activation", s.Trigger.Activation, "must be rising, falling, any, high or low")
	}
	if _, err := triggercapture.NewFourCC(s.PixelFormat); err != nil {
		add("pixel_format", s.PixelFormat, "must be a four character code")
	}
	if s.Buffers < 1 || s.Buffers > 32 {
		add("buffers", s.Buffers, "must be between 1 and 32")
	}
	if s.PreTriggers < triggercapture.AutoPreTriggers {
		add("pre_triggers", s.PreTriggers, "must be -1 (buffers-1) or a count")
	}
	if s.PollInterval <= 0 {
		add("poll_interval", s.PollInterval, "must be positive")
	}
	if s.MaxFrames < 0 {
		add("max_frames", s.MaxFrames, "must not be negative")
	}
	if s.WaitDevice < 0 {
		add("wait_device", s.WaitDevice, "must not be negative")
	}

	switch s.Output.Sink {
	case SinkRaw, SinkMsgpack:
		if s.Output.Dir == "" {
			add("output.dir", s.Output.Dir, "required for the "+s.Output.Sink+" sink")
		}
	case SinkDiscard:
	default:
		add("output.sink", s.Output.Sink, "must be raw, msgpack or discard")
	}

	if s.MQTT.Broker != "" && s.MQTT.Topic == "" {
		add("mqtt.topic", s.MQTT.Topic, "required when a broker is set")
	}
	return errs
}
