package geo

import (
	"fmt"

	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// Closer releases a locator's resources.
type Closer func() error

// New builds the configured locator wrapped in a Cached decorator.
func New(cfg config.GeoConfig, logger *logging.Logger) (Locator, Closer, error) {
	var (
		inner   Locator
		closers []func() error
	)
	switch cfg.Provider {
	case "", "ipapi":
		inner = NewIPAPI(cfg.Endpoint, cfg.Timeout, logger)
	case "maxmind":
		mm, err := OpenMaxMind(cfg.MaxMindDB)
		if err != nil {
			return nil, nil, err
		}
		inner = mm
		closers = append(closers, mm.Close)
	case "none":
		return None{}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown geo provider %q", cfg.Provider)
	}

	cached, err := NewCached(inner, cfg.CacheSize)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, nil, fmt.Errorf("failed to create geo cache: %w", err)
	}
	closers = append(closers, cached.Close)

	return cached, func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}, nil
}
