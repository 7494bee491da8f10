package config

import (
	"time"

	"goenip/batch"
)

// ToBatchConfig converts the YAML-friendly BatchConfig into the planner's
// own batch.Config, applying batch.DefaultConfig for any zero field.
func (c *Config) ToBatchConfig() batch.Config {
	def := batch.DefaultConfig()
	cfg := batch.Config{
		MaxOpsPerPacket: c.Batch.MaxOpsPerPacket,
		MaxPacketBytes:  c.Batch.MaxPacketBytes,
		ContinueOnError: c.Batch.continueOnErrorOrDefault(),
		OptimizePacking: c.Batch.optimizePackingOrDefault(),
	}
	if cfg.MaxOpsPerPacket <= 0 {
		cfg.MaxOpsPerPacket = def.MaxOpsPerPacket
	}
	if cfg.MaxPacketBytes <= 0 {
		cfg.MaxPacketBytes = def.MaxPacketBytes
	}
	return cfg
}

// Timeouts returns the dial and request timeouts, substituting 5 seconds
// for either field left unset.
func (c *Config) Timeouts() (dial, request time.Duration) {
	dial, request = c.DialTimeout, c.RequestTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	if request <= 0 {
		request = 5 * time.Second
	}
	return dial, request
}
