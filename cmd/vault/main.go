// Command vault inspects and edits vault containers stored in a directory.
package main

import (
	"io"
	"os"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const binName = "vault"

const (
	// EnvDir names the environment variable holding the default container
	// directory. The -dir flag takes precedence.
	EnvDir = "VAULT_DIR"

	// EnvLog names the environment variable holding the log level.
	EnvLog = "VAULT_LOG"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	configureLogging(stderr, os.Getenv(EnvLog))

	ui := &cli.BasicUi{
		Reader:      stdin,
		Writer:      stdout,
		ErrorWriter: stderr,
	}
	meta := Meta{
		Ui:  ui,
		Dir: os.Getenv(EnvDir),
	}

	runner := &cli.CLI{
		Name:       binName,
		Args:       args,
		Commands:   initCommands(meta),
		HelpFunc:   cli.BasicHelpFunc(binName),
		HelpWriter: stdout,
	}
	code, err := runner.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return code
}

// configureLogging points the global logger at w. Warnings and above are
// shown unless level names another zerolog level.
func configureLogging(w io.Writer, level string) {
	lvl := zerolog.WarnLevel
	var parseErr error
	if level != "" {
		var parsed zerolog.Level
		if parsed, parseErr = zerolog.ParseLevel(strings.ToLower(level)); parseErr == nil {
			lvl = parsed
		}
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
	if parseErr != nil {
		log.Warn().Err(parseErr).Str(EnvLog, level).Msg("ignoring invalid log level")
	}
}

func initCommands(meta Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"get": func() (cli.Command, error) {
			return &GetCommand{Meta: meta}, nil
		},
		"set": func() (cli.Command, error) {
			return &SetCommand{Meta: meta}, nil
		},
		"rm": func() (cli.Command, error) {
			return &RmCommand{Meta: meta}, nil
		},
		"keys": func() (cli.Command, error) {
			return &KeysCommand{Meta: meta}, nil
		},
		"dump": func() (cli.Command, error) {
			return &DumpCommand{Meta: meta}, nil
		},
		"erase": func() (cli.Command, error) {
			return &EraseCommand{Meta: meta}, nil
		},
		"delete": func() (cli.Command, error) {
			return &DeleteCommand{Meta: meta}, nil
		},
	}
}
