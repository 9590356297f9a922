// Package runtime contains the typed object model used to select and configure
// pluggable implementations (such as storage backends) by a versioned type name.
package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Typed is any object that is identified by a (versioned) type.
type Typed interface {
	GetType() Type
	SetType(Type)
	DeepCopyTyped() Typed
}

// Type identifies a kind of object in the form "name" or "name/version".
type Type struct {
	Version string
	Name    string
}

// NewUnversionedType creates a new Type without a version.
func NewUnversionedType(name string) Type {
	return Type{Name: name}
}

// NewVersionedType creates a new Type with a version.
func NewVersionedType(name, version string) Type {
	return Type{Name: name, Version: version}
}

// TypeFromString parses a type string in the formats:
// - "name" (unversioned)
// - "name/version" (versioned)
func TypeFromString(typ string) (Type, error) {
	name, version, versioned := strings.Cut(typ, "/")
	if versioned && strings.Contains(version, "/") {
		return Type{}, fmt.Errorf("invalid type %q, too many segments", typ)
	}
	if name == "" {
		return Type{}, fmt.Errorf("invalid type %q, missing name", typ)
	}
	if versioned && version == "" {
		return Type{}, fmt.Errorf("invalid type %q, empty version", typ)
	}
	return Type{Name: name, Version: version}, nil
}

// MustTypeFromString is like TypeFromString but panics on invalid input.
func MustTypeFromString(typ string) Type {
	t, err := TypeFromString(typ)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Type) Equal(other Type) bool {
	return t.Name == other.Name && t.Version == other.Version
}

func (t Type) String() string {
	if t.Version != "" {
		return t.Name + "/" + t.Version
	}
	return t.Name
}

func (t Type) HasVersion() bool {
	return t.Version != ""
}

func (t Type) IsEmpty() bool {
	return t.Version == "" && t.Name == ""
}

// MarshalJSON encodes the Type as its string form.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either a plain type string or an object carrying a "type" field.
func (t *Type) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		var typed struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &typed); err != nil {
			return fmt.Errorf("could not unmarshal type: %w", err)
		}
		str = typed.Type
	}

	parsed, err := TypeFromString(str)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
