package kvstore

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Registry maps container names to their single Container instance. A process
// normally builds one Registry at startup and passes it to whatever needs
// containers.
type Registry struct {
	factory      BackendFactory
	defaults     []ContainerOption
	precondition func(ctx context.Context) error

	lock       sync.Mutex
	containers map[string]*Container

	preLock sync.Mutex
	preDone bool
}

// NewRegistry initializes a Registry whose containers are persisted by the
// backends factory builds.
func NewRegistry(factory BackendFactory, options ...RegistryOption) *Registry {
	r := &Registry{
		factory:    factory,
		containers: make(map[string]*Container),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Get returns the container registered under name, constructing it if needed.
// Construction does not block: the backend load runs in the background and the
// container's Ready channel closes when it finishes. Options are ignored when
// the container already exists.
func (r *Registry) Get(name string, opts ...ContainerOption) (*Container, error) {
	if !NameValid(name) {
		return nil, errors.Wrapf(ErrNameInvalid, "Registry.Get %q", name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if c, ok := r.containers[name]; ok {
		return c, nil
	}

	backend, err := r.factory(name)
	if err != nil {
		return nil, errors.Wrapf(err, "Registry.Get factory %q", name)
	}
	cfg := newContainerConfig(append(append([]ContainerOption{}, r.defaults...), opts...))
	c := newContainer(name, backend, cfg)
	r.containers[name] = c
	go c.load(context.Background())
	return c, nil
}

// Init returns the container for name once its data has been loaded.
func (r *Registry) Init(ctx context.Context, name string, opts ...ContainerOption) (*Container, error) {
	c, err := r.Get(name, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "Registry.Init %q", name)
	}
	return c, nil
}

// InitAll runs the registry precondition, then initialises every named
// container concurrently. Containers are returned in the order of names.
func (r *Registry) InitAll(ctx context.Context, names ...string) ([]*Container, error) {
	if err := r.runPrecondition(ctx); err != nil {
		return nil, err
	}

	out := make([]*Container, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			c, err := r.Init(gctx, name)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) runPrecondition(ctx context.Context) error {
	if r.precondition == nil {
		return nil
	}
	r.preLock.Lock()
	defer r.preLock.Unlock()
	if r.preDone {
		return nil
	}
	if err := r.precondition(ctx); err != nil {
		return errors.Wrap(err, "Registry.InitAll precondition")
	}
	r.preDone = true
	return nil
}

// Names returns the sorted names of the registered containers.
func (r *Registry) Names() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	names := make([]string, 0, len(r.containers))
	for n := range r.containers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Delete removes the persisted data of the named container and unregisters it.
// The container does not need to be open.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if !NameValid(name) {
		return errors.Wrapf(ErrNameInvalid, "Registry.Delete %q", name)
	}

	r.lock.Lock()
	c, ok := r.containers[name]
	delete(r.containers, name)
	r.lock.Unlock()

	if ok {
		return c.destroy(ctx)
	}

	backend, err := r.factory(name)
	if err != nil {
		return errors.Wrapf(err, "Registry.Delete factory %q", name)
	}
	defer backend.Close()
	if err := backend.Delete(ctx); err != nil {
		return errors.Wrapf(err, "Registry.Delete %q", name)
	}
	return nil
}

// Close closes every registered container and empties the registry.
func (r *Registry) Close() error {
	r.lock.Lock()
	containers := r.containers
	r.containers = make(map[string]*Container)
	r.lock.Unlock()

	var result *multierror.Error
	for name, c := range containers {
		if err := c.Close(); err != nil {
			log.Error().Str("container", name).Err(err).Msg("Registry.Close")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
