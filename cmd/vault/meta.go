package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/jrsteele09/go-vault/kvstore"
	"github.com/jrsteele09/go-vault/persistence"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Meta holds the state shared by every command.
type Meta struct {
	Ui cli.Ui

	// Dir is the container directory. Empty selects persistence.DefaultDir.
	Dir string

	// Fs overrides the filesystem, for tests.
	Fs afero.Fs
}

func (m *Meta) flagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.StringVar(&m.Dir, "dir", m.Dir, "container directory")
	f.SetOutput(io.Discard)
	return f
}

func (m *Meta) fileOptions() []persistence.FileOption {
	var opts []persistence.FileOption
	if m.Fs != nil {
		opts = append(opts, persistence.WithFs(m.Fs))
	}
	return opts
}

func (m *Meta) registry() *kvstore.Registry {
	return kvstore.NewRegistry(persistence.FileFactory(m.Dir, m.fileOptions()...))
}

// requireExisting fails unless the named container has storage on disk, so
// read-only commands never create files.
func (m *Meta) requireExisting(name string) error {
	if !kvstore.NameValid(name) {
		return errors.Wrapf(kvstore.ErrNameInvalid, "%q", name)
	}
	backend, err := persistence.FileFactory(m.Dir, m.fileOptions()...)(name)
	if err != nil {
		return err
	}
	f, ok := backend.(*persistence.File)
	if !ok {
		return nil
	}
	exists, err := f.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(kvstore.ErrNotFound, "container %q", name)
	}
	return nil
}

// parse parses rawArgs and checks that exactly want positional arguments
// follow the container name. It returns the container name and the rest.
func (m *Meta) parse(f *flag.FlagSet, rawArgs []string, want int) (string, []string, bool) {
	if err := f.Parse(rawArgs); err != nil {
		m.Ui.Error(err.Error())
		return "", nil, false
	}
	args := f.Args()
	if len(args) != want+1 {
		m.Ui.Error(fmt.Sprintf("%s: expected a container name and %d more argument(s), got %d", f.Name(), want, len(args)))
		return "", nil, false
	}
	return args[0], args[1:], true
}

// withExisting is withContainer for commands that must not create storage.
func (m *Meta) withExisting(name string, fn func(ctx context.Context, c *kvstore.Container) error) int {
	if err := m.requireExisting(name); err != nil {
		m.Ui.Error(err.Error())
		return 1
	}
	return m.withContainer(name, fn)
}

// withContainer loads the named container, runs fn and closes everything,
// waiting for pending flushes.
func (m *Meta) withContainer(name string, fn func(ctx context.Context, c *kvstore.Container) error) int {
	ctx := context.Background()
	r := m.registry()
	c, err := r.Init(ctx, name)
	if err != nil {
		m.Ui.Error(err.Error())
		if closeErr := r.Close(); closeErr != nil {
			m.Ui.Error(closeErr.Error())
		}
		return 1
	}

	code := 0
	if err := fn(ctx, c); err != nil {
		m.Ui.Error(err.Error())
		code = 1
	}
	if err := r.Close(); err != nil {
		m.Ui.Error(err.Error())
		code = 1
	}
	return code
}
