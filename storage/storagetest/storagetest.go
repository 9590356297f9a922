// Package storagetest contains the behavioural test suite shared by all storage backends.
package storagetest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/contribution/contribution"
)

// Run executes the storage contract against fresh instances returned by newStorage.
func Run(t *testing.T, newStorage func(t *testing.T) contribution.Storage) {
	t.Helper()

	t.Run("add then get and list", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)

		stored, ok, err := s.Add(ctx, &contribution.Contribution{Name: "foo", Description: "a foo", Content: []byte("<foo/>")})
		r.NoError(err)
		r.True(ok)
		r.Equal("foo", stored.Name)

		got, ok, err := s.Get(ctx, "foo")
		r.NoError(err)
		r.True(ok)
		r.Equal("<foo/>", string(got.Content))
		r.Equal("a foo", got.Description)
		r.False(got.Disabled)

		list, err := s.List(ctx)
		r.NoError(err)
		r.Len(list, 1)
		r.Equal("foo", list[0].Name)
	})

	t.Run("get unknown name", func(t *testing.T) {
		got, ok, err := newStorage(t).Get(t.Context(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("add conflict keeps first content", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)

		_, ok, err := s.Add(ctx, &contribution.Contribution{Name: "foo", Content: []byte("first")})
		r.NoError(err)
		r.True(ok)

		again, ok, err := s.Add(ctx, &contribution.Contribution{Name: "foo", Content: []byte("second"), Disabled: true})
		r.NoError(err)
		r.False(ok)
		r.Nil(again)

		got, _, err := s.Get(ctx, "foo")
		r.NoError(err)
		r.Equal("first", string(got.Content))
		r.False(got.Disabled)

		list, err := s.List(ctx)
		r.NoError(err)
		r.Len(list, 1)
	})

	t.Run("remove", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)
		c := &contribution.Contribution{Name: "foo", Content: []byte("x")}

		removed, err := s.Remove(ctx, c)
		r.NoError(err)
		r.False(removed)

		_, _, err = s.Add(ctx, c)
		r.NoError(err)
		removed, err = s.Remove(ctx, &contribution.Contribution{Name: "foo"})
		r.NoError(err)
		r.True(removed)

		_, ok, err := s.Get(ctx, "foo")
		r.NoError(err)
		r.False(ok)

		removed, err = s.Remove(ctx, c)
		r.NoError(err)
		r.False(removed)
	})

	t.Run("update", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)

		updated, ok, err := s.Update(ctx, &contribution.Contribution{Name: "foo", Content: []byte("x")})
		r.NoError(err)
		r.False(ok)
		r.Nil(updated)
		_, exists, err := s.Get(ctx, "foo")
		r.NoError(err)
		r.False(exists, "update of an unknown name must not create it")

		_, _, err = s.Add(ctx, &contribution.Contribution{Name: "foo", Content: []byte("v1")})
		r.NoError(err)
		updated, ok, err = s.Update(ctx, &contribution.Contribution{Name: "foo", Description: "new", Content: []byte("v2"), Disabled: true})
		r.NoError(err)
		r.True(ok)
		r.Equal("v2", string(updated.Content))

		got, _, err := s.Get(ctx, "foo")
		r.NoError(err)
		r.Equal("v2", string(got.Content))
		r.Equal("new", got.Description)
		r.True(got.Disabled)
	})

	t.Run("results are copies", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)

		in := &contribution.Contribution{Name: "foo", Content: []byte("abc")}
		stored, _, err := s.Add(ctx, in)
		r.NoError(err)
		in.Content[0] = 'X'
		stored.Content[1] = 'Y'

		got, _, err := s.Get(ctx, "foo")
		r.NoError(err)
		r.Equal("abc", string(got.Content))
	})

	t.Run("list is stable", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)
		for _, name := range []string{"charlie", "alpha", "bravo"} {
			_, ok, err := s.Add(ctx, &contribution.Contribution{Name: name, Content: []byte(name)})
			r.NoError(err)
			r.True(ok)
		}
		first, err := s.List(ctx)
		r.NoError(err)
		second, err := s.List(ctx)
		r.NoError(err)
		r.Equal(names(first), names(second))
		r.ElementsMatch([]string{"alpha", "bravo", "charlie"}, names(first))
	})

	t.Run("invalid name", func(t *testing.T) {
		_, _, err := newStorage(t).Add(t.Context(), &contribution.Contribution{Name: "a/b"})
		assert.ErrorIs(t, err, contribution.ErrInvalidName)
	})

	t.Run("concurrent add of one name stores it once", func(t *testing.T) {
		r := require.New(t)
		ctx := t.Context()
		s := newStorage(t)

		var wg sync.WaitGroup
		var successes atomic.Int32
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.Add(ctx, &contribution.Contribution{Name: "shared", Content: fmt.Appendf(nil, "writer-%d", i)})
				assert.NoError(t, err)
				if ok {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		r.EqualValues(1, successes.Load())
		list, err := s.List(ctx)
		r.NoError(err)
		r.Len(list, 1)
	})
}

func names(list []*contribution.Contribution) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.Name)
	}
	return out
}
