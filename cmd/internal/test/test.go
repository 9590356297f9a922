// Package test provides helpers for executing the contributions command in tests.
package test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/cmd"
	"ocm.software/open-component-model/contribution/internal/flags/log"
)

type Options struct {
	args   []string
	out    io.Writer
	err    io.Writer
	in     io.Reader
	format string
	ctx    context.Context
}

type Option func(*Options)

func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.args = args
	}
}

// WithOutput captures the command output.
func WithOutput(out io.Writer) Option {
	return func(o *Options) {
		o.out = out
	}
}

// WithErrorOutput captures the error output, which receives the logs by default.
func WithErrorOutput(err io.Writer) Option {
	return func(o *Options) {
		o.err = err
	}
}

func WithInput(in io.Reader) Option {
	return func(o *Options) {
		o.in = in
	}
}

// WithContext runs the command with ctx instead of the test context.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.ctx = ctx
	}
}

func WithLogFormat(format string) Option {
	return func(o *Options) {
		o.format = format
	}
}

// Contributions executes the root command in-process with the given options.
func Contributions(tb testing.TB, opts ...Option) (*cobra.Command, error) {
	tb.Helper()

	opt := Options{}
	for _, o := range opts {
		o(&opt)
	}
	instance := cmd.New()
	if len(opt.args) == 0 {
		opt.args = []string{"help"}
	}
	if opt.out != nil {
		instance.SetOut(opt.out)
	}
	if opt.err != nil {
		instance.SetErr(opt.err)
	} else {
		instance.SetErr(io.Discard)
	}
	if opt.in != nil {
		instance.SetIn(opt.in)
	}

	// json logs are easier to assert on
	if opt.format == "" {
		opt.format = log.FormatJSON
	}
	if err := instance.PersistentFlags().Lookup(log.FormatFlagName).Value.Set(opt.format); err != nil {
		return nil, fmt.Errorf("failed to set format: %w", err)
	}

	if opt.ctx == nil {
		opt.ctx = tb.Context()
	}
	instance.SetArgs(opt.args)
	return instance.ExecuteContextC(opt.ctx)
}

// JSONLogReader collects JSON log lines. Lines that are not JSON end up in Discarded.
type JSONLogReader struct {
	*bytes.Buffer
	Discarded *bytes.Buffer
}

func NewJSONLogReader() *JSONLogReader {
	return &JSONLogReader{
		Buffer:    bytes.NewBuffer(make([]byte, 0, 1024)),
		Discarded: bytes.NewBuffer(make([]byte, 0, 1024)),
	}
}

type JSONLogEntry struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`

	// Extras holds all other attributes.
	Extras map[string]any `json:"-"`
}

func (l *JSONLogEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Time, _ = raw["time"].(string)
	l.Level, _ = raw["level"].(string)
	l.Msg, _ = raw["msg"].(string)
	delete(raw, "time")
	delete(raw, "level")
	delete(raw, "msg")
	l.Extras = raw
	return nil
}

// List parses all buffered log lines.
func (logs *JSONLogReader) List() ([]*JSONLogEntry, error) {
	scanner := bufio.NewScanner(logs.Buffer)
	var entries []*JSONLogEntry
	for scanner.Scan() {
		data := scanner.Bytes()
		entry := JSONLogEntry{}
		if err := json.Unmarshal(data, &entry); err == nil {
			entries = append(entries, &entry)
		} else if _, err := logs.Discarded.Write(append(data, '\n')); err != nil {
			return nil, err
		}
	}
	return entries, scanner.Err()
}
