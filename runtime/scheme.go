package runtime

import (
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"sync"

	"sigs.k8s.io/yaml"
)

// Scheme is a dynamic registry of Typed prototypes keyed by Type.
// A prototype may be registered under several aliases, e.g. a versioned and an unversioned type.
type Scheme struct {
	mu sync.RWMutex
	// allowUnknown makes NewObject fall back to *Raw for unregistered types instead of failing.
	allowUnknown bool
	types        map[Type]Typed
}

type SchemeOption func(*Scheme)

// WithAllowUnknown allows unknown types to be created as *Raw.
func WithAllowUnknown() SchemeOption {
	return func(s *Scheme) {
		s.allowUnknown = true
	}
}

// NewScheme creates a new, empty Scheme.
func NewScheme(opts ...SchemeOption) *Scheme {
	s := &Scheme{
		types: make(map[Type]Typed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (r *Scheme) Clone() *Scheme {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewScheme()
	clone.allowUnknown = r.allowUnknown
	maps.Copy(clone.types, r.types)
	return clone
}

// RegisterWithAlias registers the prototype under all given types.
// Registering an already known type is an error and leaves the scheme unchanged.
func (r *Scheme) RegisterWithAlias(prototype Typed, types ...Type) error {
	if len(types) == 0 {
		return fmt.Errorf("at least one type is required to register %T", prototype)
	}
	if reflect.TypeOf(prototype).Kind() != reflect.Pointer {
		return fmt.Errorf("prototype %T must be a pointer to a struct", prototype)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, typ := range types {
		if _, exists := r.types[typ]; exists {
			return fmt.Errorf("type %q is already registered", typ)
		}
	}
	for _, typ := range types {
		r.types[typ] = prototype
	}
	return nil
}

func (r *Scheme) MustRegisterWithAlias(prototype Typed, types ...Type) {
	if err := r.RegisterWithAlias(prototype, types...); err != nil {
		panic(err)
	}
}

// TypeForPrototype returns the versioned type the prototype's Go type was registered with.
func (r *Scheme) TypeForPrototype(prototype any) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := reflect.TypeOf(prototype)
	for _, typ := range r.sortedTypesLocked() {
		// unversioned aliases are never the canonical type of a prototype
		if !typ.HasVersion() {
			continue
		}
		if reflect.TypeOf(r.types[typ]) == want {
			return typ, nil
		}
	}
	return Type{}, fmt.Errorf("prototype %T not found in scheme", prototype)
}

func (r *Scheme) IsRegistered(typ Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.types[typ]
	return exists
}

// Types returns all registered types in a stable order.
func (r *Scheme) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedTypesLocked()
}

func (r *Scheme) sortedTypesLocked() []Type {
	types := slices.Collect(maps.Keys(r.types))
	slices.SortFunc(types, func(a, b Type) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return types
}

// NewObject creates a new, empty instance of the prototype registered for typ with its type set.
func (r *Scheme) NewObject(typ Type) (Typed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	proto, exists := r.types[typ]
	if exists {
		t := reflect.TypeOf(proto)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		object, ok := reflect.New(t).Interface().(Typed)
		if !ok {
			return nil, fmt.Errorf("prototype for %s does not implement Typed", typ)
		}
		object.SetType(typ)
		return object, nil
	}

	if r.allowUnknown {
		return &Raw{Type: typ}, nil
	}
	return nil, fmt.Errorf("unsupported type: %s", typ)
}

// Decode reads YAML or JSON from data into the given registered prototype.
func (r *Scheme) Decode(data io.Reader, into Typed) error {
	if _, err := r.TypeForPrototype(into); err != nil && !r.allowUnknown {
		return fmt.Errorf("%T is not a valid registered type and cannot be decoded: %w", into, err)
	}
	bytes, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("could not read data: %w", err)
	}
	if err := yaml.Unmarshal(bytes, into); err != nil {
		return fmt.Errorf("failed to unmarshal into %T: %w", into, err)
	}
	return nil
}

// Convert decodes a *Raw into a concrete prototype, or copies a typed object of the same Go type.
func (r *Scheme) Convert(from Typed, into Typed) error {
	if raw, ok := from.(*Raw); ok {
		if !r.IsRegistered(raw.GetType()) {
			return fmt.Errorf("cannot decode from unregistered type: %s", raw.GetType())
		}
		if err := yaml.Unmarshal(raw.Data, into); err != nil {
			return fmt.Errorf("failed to unmarshal raw %s: %w", raw.GetType(), err)
		}
		return nil
	}

	intoValue := reflect.ValueOf(into)
	if intoValue.Kind() != reflect.Pointer || intoValue.IsNil() {
		return fmt.Errorf("into must be a non-nil pointer")
	}
	fromValue := reflect.ValueOf(from)
	if fromValue.Kind() != reflect.Pointer || fromValue.IsNil() {
		return fmt.Errorf("from must be a non-nil pointer")
	}
	if fromValue.Type() != intoValue.Type() {
		return fmt.Errorf("cannot convert from %s into %s", fromValue.Type(), intoValue.Type())
	}
	intoValue.Elem().Set(reflect.ValueOf(from.DeepCopyTyped()).Elem())
	return nil
}
