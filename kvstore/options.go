package kvstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ContainerOption is a type for functions that configure a Container.
// These functions are intended to be used with Registry.Get, Registry.Init
// and WithDefaults.
type ContainerOption func(c *containerConfig)

type containerConfig struct {
	initial     map[string]any
	flushWindow time.Duration
	logger      zerolog.Logger
}

func newContainerConfig(opts []ContainerOption) containerConfig {
	cfg := containerConfig{
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithInitialData returns a ContainerOption that seeds a container whose
// storage is empty on first load. It is ignored once data has been persisted,
// and ignored when the container already exists in the registry.
//
// Example:
//
//	registry.Get("settings", WithInitialData(map[string]any{"theme": "dark"}))
func WithInitialData(data map[string]any) ContainerOption {
	return func(c *containerConfig) {
		c.initial = data
	}
}

// WithFlushWindow returns a ContainerOption that sets how long a persistence
// request waits for further requests to coalesce with before flushing.
func WithFlushWindow(d time.Duration) ContainerOption {
	return func(c *containerConfig) {
		c.flushWindow = d
	}
}

// WithLogger returns a ContainerOption that sets the parent logger. The
// container adds its name as the "container" field.
func WithLogger(logger zerolog.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// RegistryOption is a type for functions that configure a Registry.
type RegistryOption func(r *Registry)

// WithDefaults returns a RegistryOption that applies opts to every container
// the registry constructs, before any per-call options.
func WithDefaults(opts ...ContainerOption) RegistryOption {
	return func(r *Registry) {
		r.defaults = append(r.defaults, opts...)
	}
}

// WithPrecondition returns a RegistryOption that registers a check InitAll
// must pass before any container is initialised, such as host environment
// setup. It runs at most once successfully.
func WithPrecondition(fn func(ctx context.Context) error) RegistryOption {
	return func(r *Registry) {
		r.precondition = fn
	}
}
