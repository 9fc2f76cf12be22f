package main

import (
	"bytes"
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jrsteele09/go-vault/kvstore"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
)

const dirHelp = `
  -dir=path    Directory holding the container files. Defaults to $VAULT_DIR,
               then to the platform application-data directory.
`

// GetCommand prints a single value as JSON.
type GetCommand struct {
	Meta
}

func (c *GetCommand) Run(rawArgs []string) int {
	name, args, ok := c.parse(c.flagSet("get"), rawArgs, 1)
	if !ok {
		return cli.RunResultHelp
	}
	key := args[0]
	return c.withExisting(name, func(_ context.Context, box *kvstore.Container) error {
		v, ok := box.Get(key)
		if !ok {
			return errors.Errorf("%s: no value for key %q", name, key)
		}
		out, err := formatValue(v)
		if err != nil {
			return err
		}
		c.Ui.Output(out)
		return nil
	})
}

func (c *GetCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault get [options] CONTAINER KEY

  Prints the value stored under KEY as JSON.

Options:
` + dirHelp)
}

func (c *GetCommand) Synopsis() string {
	return "Print a value"
}

// SetCommand writes a value and waits for it to be persisted.
type SetCommand struct {
	Meta
}

func (c *SetCommand) Run(rawArgs []string) int {
	f := c.flagSet("set")
	var raw bool
	f.BoolVar(&raw, "string", false, "store VALUE as a string")
	name, args, ok := c.parse(f, rawArgs, 2)
	if !ok {
		return cli.RunResultHelp
	}
	key, value := args[0], parseValue(args[1], raw)
	return c.withContainer(name, func(ctx context.Context, box *kvstore.Container) error {
		return box.Write(ctx, key, value)
	})
}

func (c *SetCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault set [options] CONTAINER KEY VALUE

  Stores VALUE under KEY. VALUE is parsed as JSON; text that is not valid
  JSON is stored as a string.

Options:

  -string      Store VALUE as a string even if it parses as JSON.
` + dirHelp)
}

func (c *SetCommand) Synopsis() string {
	return "Store a value"
}

// RmCommand removes a key.
type RmCommand struct {
	Meta
}

func (c *RmCommand) Run(rawArgs []string) int {
	name, args, ok := c.parse(c.flagSet("rm"), rawArgs, 1)
	if !ok {
		return cli.RunResultHelp
	}
	return c.withExisting(name, func(ctx context.Context, box *kvstore.Container) error {
		return box.Remove(ctx, args[0])
	})
}

func (c *RmCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault rm [options] CONTAINER KEY

  Removes KEY. Removing a missing key is not an error.

Options:
` + dirHelp)
}

func (c *RmCommand) Synopsis() string {
	return "Remove a key"
}

// KeysCommand lists the keys of a container, one per line.
type KeysCommand struct {
	Meta
}

func (c *KeysCommand) Run(rawArgs []string) int {
	name, _, ok := c.parse(c.flagSet("keys"), rawArgs, 0)
	if !ok {
		return cli.RunResultHelp
	}
	return c.withExisting(name, func(_ context.Context, box *kvstore.Container) error {
		for _, k := range box.Keys() {
			c.Ui.Output(k)
		}
		return nil
	})
}

func (c *KeysCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault keys [options] CONTAINER

  Lists the keys of CONTAINER in sorted order.

Options:
` + dirHelp)
}

func (c *KeysCommand) Synopsis() string {
	return "List keys"
}

// DumpCommand prints the whole container as a JSON object.
type DumpCommand struct {
	Meta
}

func (c *DumpCommand) Run(rawArgs []string) int {
	name, _, ok := c.parse(c.flagSet("dump"), rawArgs, 0)
	if !ok {
		return cli.RunResultHelp
	}
	return c.withExisting(name, func(_ context.Context, box *kvstore.Container) error {
		data := make(map[string]any)
		for _, k := range box.Keys() {
			if v, ok := box.Get(k); ok {
				data[k] = v
			}
		}
		out, err := formatValue(data)
		if err != nil {
			return err
		}
		c.Ui.Output(out)
		return nil
	})
}

func (c *DumpCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault dump [options] CONTAINER

  Prints every entry of CONTAINER as one JSON object.

Options:
` + dirHelp)
}

func (c *DumpCommand) Synopsis() string {
	return "Print a container as JSON"
}

// EraseCommand removes every key but keeps the container's storage.
type EraseCommand struct {
	Meta
}

func (c *EraseCommand) Run(rawArgs []string) int {
	name, _, ok := c.parse(c.flagSet("erase"), rawArgs, 0)
	if !ok {
		return cli.RunResultHelp
	}
	return c.withExisting(name, func(ctx context.Context, box *kvstore.Container) error {
		return box.Erase(ctx)
	})
}

func (c *EraseCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault erase [options] CONTAINER

  Removes every key from CONTAINER and persists the empty container.

Options:
` + dirHelp)
}

func (c *EraseCommand) Synopsis() string {
	return "Remove every key"
}

// DeleteCommand removes a container's storage.
type DeleteCommand struct {
	Meta
}

func (c *DeleteCommand) Run(rawArgs []string) int {
	name, _, ok := c.parse(c.flagSet("delete"), rawArgs, 0)
	if !ok {
		return cli.RunResultHelp
	}
	r := c.registry()
	code := 0
	if err := r.Delete(context.Background(), name); err != nil {
		c.Ui.Error(err.Error())
		code = 1
	}
	if err := r.Close(); err != nil {
		c.Ui.Error(err.Error())
		code = 1
	}
	return code
}

func (c *DeleteCommand) Help() string {
	return strings.TrimSpace(`
Usage: vault delete [options] CONTAINER

  Deletes the primary and backup files of CONTAINER.

Options:
` + dirHelp)
}

func (c *DeleteCommand) Synopsis() string {
	return "Delete a container"
}

func parseValue(s string, raw bool) any {
	if raw {
		return s
	}
	if !json.Valid([]byte(s)) {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	return v
}

func formatValue(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "formatValue")
	}
	return string(b), nil
}
