// Package memory provides a process local contribution storage.
package memory

import (
	"context"
	"slices"
	"sync"

	"ocm.software/open-component-model/contribution/contribution"
)

// Storage keeps contributions in memory in insertion order.
type Storage struct {
	mu    sync.RWMutex
	names []string
	items map[string]*contribution.Contribution
}

var _ contribution.Storage = (*Storage)(nil)

func New() *Storage {
	return &Storage{items: make(map[string]*contribution.Contribution)}
}

func (s *Storage) List(_ context.Context) ([]*contribution.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*contribution.Contribution, 0, len(s.names))
	for _, name := range s.names {
		list = append(list, s.items[name].DeepCopy())
	}
	return list, nil
}

func (s *Storage) Get(_ context.Context, name string) (*contribution.Contribution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[name]
	return c.DeepCopy(), ok, nil
}

func (s *Storage) Add(_ context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.Name]; exists {
		return nil, false, nil
	}
	s.items[c.Name] = c.DeepCopy()
	s.names = append(s.names, c.Name)
	return c.DeepCopy(), true, nil
}

func (s *Storage) Remove(_ context.Context, c *contribution.Contribution) (bool, error) {
	if err := contribution.Validate(c); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.Name]; !exists {
		return false, nil
	}
	delete(s.items, c.Name)
	s.names = slices.DeleteFunc(s.names, func(n string) bool { return n == c.Name })
	return true, nil
}

func (s *Storage) Update(_ context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.Name]; !exists {
		return nil, false, nil
	}
	s.items[c.Name] = c.DeepCopy()
	return c.DeepCopy(), true, nil
}
