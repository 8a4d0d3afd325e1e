package triggercapture

import (
	"log/slog"
)

// TriggerConfig selects what fires the camera and on which signal condition.
type TriggerConfig struct {
	Source     TriggerSource
	Activation TriggerActivation
}

// DefaultTriggerConfig is a software trigger on the rising edge.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{Source: SourceSoftware, Activation: ActivationRisingEdge}
}

// TriggerController drives the vendor trigger controls of a device. Trigger
// mode must be enabled before source or activation can be changed.
type TriggerController struct {
	surface     Surface
	log         *slog.Logger
	modeEnabled bool
	config      TriggerConfig
}

// NewTriggerController returns a controller for surface with trigger mode
// assumed off.
func NewTriggerController(surface Surface, logger *slog.Logger) *TriggerController {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerController{surface: surface, log: logger}
}

func (c *TriggerController) GetSource() (TriggerSource, error) {
	src, err := c.surface.GetTriggerSource()
	if err != nil {
		return 0, triggerError("get trigger source", ErrTriggerControl, err)
	}
	return src, nil
}

func (c *TriggerController) GetActivation() (TriggerActivation, error) {
	act, err := c.surface.GetTriggerActivation()
	if err != nil {
		return 0, triggerError("get trigger activation", ErrTriggerControl, err)
	}
	return act, nil
}

func (c *TriggerController) SetTriggerModeEnabled(on bool) error {
	if err := c.surface.SetTriggerMode(on); err != nil {
		return triggerError("set trigger mode", ErrTriggerControl, err)
	}
	c.modeEnabled = on
	return nil
}

func (c *TriggerController) SetSource(src TriggerSource) error {
	if !c.modeEnabled {
		return triggerError("set trigger source", ErrTriggerModeDisabled, nil)
	}
	if err := c.surface.SetTriggerSource(src); err != nil {
		return triggerError("set trigger source", ErrTriggerControl, err)
	}
	c.config.Source = src
	return nil
}

func (c *TriggerController) SetActivation(act TriggerActivation) error {
	if !c.modeEnabled {
		return triggerError("set trigger activation", ErrTriggerModeDisabled, nil)
	}
	if err := c.surface.SetTriggerActivation(act); err != nil {
		return triggerError("set trigger activation", ErrTriggerControl, err)
	}
	c.config.Activation = act
	return nil
}

// FireSoftware issues one software trigger. Callers only fire when the
// configured source is SourceSoftware.
func (c *TriggerController) FireSoftware() error {
	if err := c.surface.FireSoftwareTrigger(); err != nil {
		return triggerError("fire software trigger", ErrTriggerControl, err)
	}
	return nil
}

// Configure enables trigger mode and applies cfg, logging the device state
// before and after. The values read back are authoritative and returned.
func (c *TriggerController) Configure(cfg TriggerConfig) (TriggerConfig, error) {
	before, err := c.read()
	if err != nil {
		return TriggerConfig{}, err
	}
	c.log.Info("trigger-capture: trigger state before configuration",
		"source", before.Source.String(),
		"activation", before.Activation.String(),
	)

	if err := c.SetTriggerModeEnabled(true); err != nil {
		return TriggerConfig{}, err
	}
	if err := c.SetSource(cfg.Source); err != nil {
		return TriggerConfig{}, err
	}
	if err := c.SetActivation(cfg.Activation); err != nil {
		return TriggerConfig{}, err
	}

	after, err := c.read()
	if err != nil {
		return TriggerConfig{}, err
	}
	c.log.Info("trigger-capture: trigger configured",
		"source", after.Source.String(),
		"activation", after.Activation.String(),
	)
	if after != cfg {
		c.log.Warn("trigger-capture: device reports a different trigger configuration",
			"requested_source", cfg.Source.String(),
			"requested_activation", cfg.Activation.String(),
			"source", after.Source.String(),
			"activation", after.Activation.String(),
		)
	}
	c.config = after
	return after, nil
}

func (c *TriggerController) read() (TriggerConfig, error) {
	src, err := c.GetSource()
	if err != nil {
		return TriggerConfig{}, err
	}
	act, err := c.GetActivation()
	if err != nil {
		return TriggerConfig{}, err
	}
	return TriggerConfig{Source: src, Activation: act}, nil
}

// Config returns the configuration last applied or read back.
func (c *TriggerController) Config() TriggerConfig { return c.config }

// ModeEnabled reports whether trigger mode has been switched on.
func (c *TriggerController) ModeEnabled() bool { return c.modeEnabled }
