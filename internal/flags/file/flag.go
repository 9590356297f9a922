// Package file provides a pflag value holding the path of an input file.
package file

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/pflag"
)

const Type = "path"

// Flag holds a path and, if the path exists, its file info.
type Flag struct {
	path string
	fs.FileInfo
}

func (f *Flag) String() string {
	return f.path
}

func (f *Flag) Exists() bool {
	return f.FileInfo != nil
}

func (f *Flag) Open() (io.ReadCloser, error) {
	if !f.Exists() {
		return nil, fmt.Errorf("file %q does not exist", f.path)
	}
	return os.Open(f.path)
}

// ReadAll returns the content of the file. "-" reads from stdin.
func (f *Flag) ReadAll(stdin io.Reader) ([]byte, error) {
	if f.path == "-" {
		return io.ReadAll(stdin)
	}
	if f.Exists() && f.IsDir() {
		return nil, fmt.Errorf("%q is a directory", f.path)
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (f *Flag) Set(s string) error {
	f.path = s
	f.FileInfo = nil
	if s == "" || s == "-" {
		return nil
	}
	info, err := os.Stat(s)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to stat path %q: %w", s, err)
	}
	f.FileInfo = info
	return nil
}

func (f *Flag) Type() string {
	return Type
}

func Var(f *pflag.FlagSet, name string, value string, usage string) {
	VarP(f, name, "", value, usage)
}

func VarP(f *pflag.FlagSet, name, shorthand string, value string, usage string) {
	flag := &Flag{}
	_ = flag.Set(value)
	f.VarP(flag, name, shorthand, usage)
}

func Get(f *pflag.FlagSet, name string) (*Flag, error) {
	flag := f.Lookup(name)
	if flag == nil {
		return nil, fmt.Errorf("flag accessed but not defined: %s", name)
	}
	val, ok := flag.Value.(*Flag)
	if !ok {
		return nil, fmt.Errorf("trying to get %s value of flag of type %s", Type, flag.Value.Type())
	}
	return val, nil
}
