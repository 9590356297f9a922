package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/storage/spec/v1alpha1"
	"ocm.software/open-component-model/contribution/storage/sqlite"
	"ocm.software/open-component-model/contribution/storage/storagetest"
)

func open(t *testing.T, path string) *sqlite.Storage {
	t.Helper()
	s, err := sqlite.New(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) contribution.Storage {
		return open(t, filepath.Join(t.TempDir(), "contributions.db"))
	})
}

func TestStorage_ReopenKeepsDataAndOrder(t *testing.T) {
	r := require.New(t)
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "contributions.db")

	first := open(t, path)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, ok, err := first.Add(ctx, &contribution.Contribution{Name: name, Content: []byte(name), Disabled: name == "mid"})
		r.NoError(err)
		r.True(ok)
	}
	r.NoError(first.Close())

	// migrations are applied again on open and must be a no-op
	second := open(t, path)
	list, err := second.List(ctx)
	r.NoError(err)
	r.Len(list, 3)
	r.Equal([]string{"zeta", "alpha", "mid"}, []string{list[0].Name, list[1].Name, list[2].Name})
	r.True(list[2].Disabled)
}

func TestNewFromSpec(t *testing.T) {
	r := require.New(t)
	s, err := sqlite.NewFromSpec(t.Context(), &v1alpha1.SQLiteStorage{Path: filepath.Join(t.TempDir(), "db.sqlite")})
	r.NoError(err)
	closer, ok := s.(*sqlite.Storage)
	r.True(ok)
	r.NoError(closer.Close())

	_, err = sqlite.NewFromSpec(t.Context(), &v1alpha1.SQLiteStorage{})
	r.Error(err)
}
