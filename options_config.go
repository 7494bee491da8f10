package goenip

import "goenip/config"

// OptionsFromConfig builds a Client Options from a loaded config.Config,
// the glue the donor driver's own host wiring used between its persisted
// Config and the live connection it drove.
func OptionsFromConfig(cfg *config.Config) Options {
	dial, request := cfg.Timeouts()
	return Options{
		Port:           cfg.Port,
		DialTimeout:    dial,
		RequestTimeout: request,
		BatchConfig:    cfg.ToBatchConfig(),
		HealthPeriod:   cfg.HealthPeriod,
		CoalesceWindow: cfg.CoalesceWindow,
	}
}
