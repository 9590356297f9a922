// Package contribution defines the persisted contribution entity and the
// storage contract every durable backend has to satisfy.
package contribution

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ComponentPrefix is prepended to a contribution name to form the name of
// its live component inside a runtime context.
const ComponentPrefix = "config:"

// ErrInvalidName is returned for names that cannot be used as storage keys.
var ErrInvalidName = errors.New("invalid contribution name")

// Contribution is a named configuration or extension descriptor.
// Content is opaque and passed verbatim to the runtime context.
type Contribution struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     []byte `json:"content,omitempty"`
	// Disabled contributions are never installed automatically on start,
	// but can still be persisted, removed and installed manually.
	Disabled bool `json:"disabled,omitempty"`
}

// New creates an enabled contribution.
func New(name string, content []byte) *Contribution {
	return &Contribution{Name: name, Content: content}
}

// ComponentName is the name under which the contribution is registered when live.
func (c *Contribution) ComponentName() string {
	return ComponentPrefix + c.Name
}

func (c *Contribution) DeepCopy() *Contribution {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Content != nil {
		cp.Content = make([]byte, len(c.Content))
		copy(cp.Content, c.Content)
	}
	return &cp
}

func (c *Contribution) String() string {
	return c.Name
}

// ValidateName checks that name is usable as a key by every storage backend.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, name)
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return fmt.Errorf("%w: %q must not contain control characters", ErrInvalidName, name)
	}
	return nil
}

// Validate checks the contribution can be handed to a storage backend.
func Validate(c *Contribution) error {
	if c == nil {
		return fmt.Errorf("%w: nil contribution", ErrInvalidName)
	}
	return ValidateName(c.Name)
}
