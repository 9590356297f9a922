package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Raw is a typed object whose body has not been decoded into a concrete prototype yet.
// Data always holds the canonical JSON form of the full object, including the type field.
type Raw struct {
	Type `json:"type"`
	Data []byte `json:"-"`
}

var _ interface {
	json.Marshaler
	json.Unmarshaler
	Typed
} = &Raw{}

// NewRaw builds a Raw from an arbitrary JSON-compatible value.
// The value must carry a "type" field.
func NewRaw(v any) (*Raw, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not marshal value into raw: %w", err)
	}
	raw := &Raw{}
	if err := raw.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return raw, nil
}

func (u *Raw) String() string {
	return string(u.Data)
}

func (u *Raw) SetType(v Type) {
	u.Type = v
}

func (u *Raw) GetType() Type {
	return u.Type
}

func (u *Raw) DeepCopyTyped() Typed {
	if u == nil {
		return nil
	}
	data := make([]byte, len(u.Data))
	copy(data, u.Data)
	return &Raw{Type: u.Type, Data: data}
}

func (u *Raw) MarshalJSON() ([]byte, error) {
	return u.Data, nil
}

func (u *Raw) UnmarshalJSON(data []byte) error {
	t := &struct {
		Type Type `json:"type"`
	}{}
	if err := json.Unmarshal(data, t); err != nil {
		return fmt.Errorf("could not unmarshal data into raw: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return fmt.Errorf("could not canonicalize data: %w", err)
	}
	u.Type = t.Type
	u.Data = canonical
	return nil
}
