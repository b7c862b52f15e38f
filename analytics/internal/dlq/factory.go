package dlq

import (
	"context"
	"fmt"

	"github.com/numberoneson/nos-analytics/analytics/internal/config"
	"github.com/numberoneson/nos-analytics/common/logging"
	"github.com/numberoneson/nos-analytics/common/messaging/nats"
)

// New builds the configured DLQ. It returns a nil Store when the DLQ is
// disabled. The returned close function is always safe to call.
func New(ctx context.Context, cfg config.DLQConfig, logger *logging.Logger) (Store, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return nil, noop, nil
	}

	switch cfg.Backend {
	case "", "file":
		q, err := NewQueue(cfg.BasePath, logger)
		if err != nil {
			return nil, noop, err
		}
		return q, noop, nil
	case "jetstream":
		js, err := nats.NewJetStreamClient(nats.Config{URL: cfg.NATSURL, Name: "nos-analytics-dlq"})
		if err != nil {
			return nil, noop, err
		}
		q, err := NewJetStreamQueue(ctx, js, logger)
		if err != nil {
			js.Close()
			return nil, noop, err
		}
		return q, js.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown dlq backend %q", cfg.Backend)
	}
}
