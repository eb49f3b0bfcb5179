package main

import (
	"github.com/tmuxagentd/tmuxagentd/internal/common/config"
	logger "github.com/tmuxagentd/tmuxagentd/internal/log"
	"github.com/tmuxagentd/tmuxagentd/internal/events"
	"github.com/tmuxagentd/tmuxagentd/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	provider, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return provider.Bus, cleanup, nil
}
