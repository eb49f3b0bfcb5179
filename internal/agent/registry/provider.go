package registry

import logger "github.com/tmuxagentd/tmuxagentd/internal/log"

// Provide creates and loads the agent registry.
func Provide(log *logger.Logger) (*Registry, func() error, error) {
	reg := NewRegistry(log)
	reg.LoadDefaults()
	return reg, func() error { return nil }, nil
}
