package config

import (
	"fmt"

	"quote-board-go/quote"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and patterns compile.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	switch cfg.Mode {
	case ModeHTTP:
		if cfg.Source.URL == "" {
			return ErrInvalid("source.url is required in http mode (or QB_SOURCE_URL)")
		}
	case ModeSim:
	default:
		return ErrInvalid(fmt.Sprintf("mode must be %q or %q, got %q", ModeHTTP, ModeSim, cfg.Mode))
	}
	if cfg.Source.TimeoutMs <= 0 {
		return ErrInvalid("source.timeoutMs must be > 0")
	}
	if cfg.Source.Retries < 0 {
		return ErrInvalid("source.retries must be >= 0")
	}
	if cfg.Source.RatePerSec < 0 || cfg.Source.Burst < 0 {
		return ErrInvalid("source.ratePerSec/burst must be >= 0")
	}
	if cfg.Schedule.IntervalSec <= 0 {
		return ErrInvalid("schedule.intervalSec must be > 0")
	}
	if cfg.Schedule.ManualCooldownMs < 0 {
		return ErrInvalid("schedule.manualCooldownMs must be >= 0")
	}
	for name, ic := range map[string]InstrumentConfig{
		"dollar": cfg.Instruments.Dollar,
		"real":   cfg.Instruments.Real,
	} {
		if len(ic.Aliases) == 0 {
			return ErrInvalid(fmt.Sprintf("instruments.%s.aliases is required", name))
		}
		if len(ic.Patterns) == 0 {
			return ErrInvalid(fmt.Sprintf("instruments.%s.patterns is required", name))
		}
		if ic.MinSpread <= 0 {
			return ErrInvalid(fmt.Sprintf("instruments.%s.minSpread must be > 0", name))
		}
	}
	if cfg.Cross.MinSpread <= 0 {
		return ErrInvalid("cross.minSpread must be > 0")
	}
	if cfg.Server.Addr == "" {
		return ErrInvalid("server.addr is required")
	}
	if cfg.Server.RatePerSec < 0 || cfg.Server.Burst < 0 {
		return ErrInvalid("server.ratePerSec/burst must be >= 0")
	}
	if cfg.Sim.DollarStep < 0 || cfg.Sim.RealStep < 0 {
		return ErrInvalid("sim steps must be >= 0")
	}
	if cfg.Alert.StaleAfterSec < 0 || cfg.Alert.FailureThreshold < 0 || cfg.Alert.ThrottleSec < 0 {
		return ErrInvalid("alert settings must be >= 0")
	}
	if _, err := quote.NewPipeline(cfg.Spec()); err != nil {
		return fmt.Errorf("instruments: %w", err)
	}
	return nil
}
