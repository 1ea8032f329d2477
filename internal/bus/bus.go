package bus

import (
	"fmt"

	"github.com/sinavika/fraudwatch/internal/domain"
)

// New creates an event bus based on configuration.
// Community tier runs on Go channels; Pro tier runs on NATS.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
