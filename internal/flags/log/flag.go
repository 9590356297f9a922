// Package log builds the process logger from the --logformat, --loglevel and
// --logoutput flags.
package log

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ocm.software/open-component-model/contribution/internal/flags/enum"
)

const (
	FormatFlagName = "logformat"

	FormatText = "text"
	FormatJSON = "json"
)

const (
	LevelFlagName = "loglevel"

	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

const (
	OutputFlagName = "logoutput"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

// RegisterLoggingFlags adds the logging flags to flagset. Register them as persistent
// flags of the root command to make them available to every subcommand:
//
//	--logformat json --loglevel debug --logoutput stdout
func RegisterLoggingFlags(flagset *pflag.FlagSet) {
	enum.Var(flagset, FormatFlagName, []string{
		FormatText,
		FormatJSON,
	}, `set the log output format
   text: human readable key=value pairs
   json: one JSON object per line, suitable for machine processing`)

	enum.Var(flagset, LevelFlagName, []string{
		LevelInfo,
		LevelDebug,
		LevelWarn,
		LevelError,
	}, `set the logging level
   debug: show all logs including storage and deployment internals
   info:  show installs, uninstalls and recovery results (default)
   warn:  show warnings and errors only
   error: show errors only`)

	// command output goes to stdout, so logs default to stderr
	enum.Var(flagset, OutputFlagName, []string{
		OutputStderr,
		OutputStdout,
	}, `set the log output destination`)
}

// ApplyDefaults sets format and level from configuration for every logging flag
// that was not passed explicitly. Empty values are ignored.
func ApplyDefaults(flagset *pflag.FlagSet, format, level string) error {
	for name, value := range map[string]string{FormatFlagName: format, LevelFlagName: level} {
		flag := flagset.Lookup(name)
		if value == "" || flag == nil || flag.Changed {
			continue
		}
		if err := flag.Value.Set(value); err != nil {
			return fmt.Errorf("invalid configured %s %q: %w", name, value, err)
		}
	}
	return nil
}

// GetBaseLogger creates a logger from the logging flags of cmd.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := levelFromCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to get log level: %w", err)
	}

	format, err := enum.Get(cmd.Flags(), FormatFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get the log format from the command flag: %w", err)
	}

	output, err := enum.Get(cmd.Flags(), OutputFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get the log output from the command flag: %w", err)
	}

	var w io.Writer
	switch output {
	case OutputStdout:
		w = cmd.OutOrStdout()
	case OutputStderr:
		w = cmd.ErrOrStderr()
	default:
		return nil, fmt.Errorf("invalid log output: %s", output)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

func levelFromCommand(cmd *cobra.Command) (slog.Level, error) {
	value, err := enum.Get(cmd.Flags(), LevelFlagName)
	if err != nil {
		return slog.LevelInfo, err
	}
	switch value {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo:
		return slog.LevelInfo, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", value)
	}
}
