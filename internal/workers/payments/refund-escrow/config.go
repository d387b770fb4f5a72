package refundescrow

import (
	"time"

	"trades-marketplace/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(cfg config.WorkerConfig) *Config {
	c := &Config{Timeout: 30 * time.Second}
	if cfg.Timeout > 0 {
		c.Timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}
	return c
}
