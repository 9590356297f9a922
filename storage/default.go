package storage

import (
	"context"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/runtime"
	"ocm.software/open-component-model/contribution/storage/filesystem"
	"ocm.software/open-component-model/contribution/storage/memory"
	"ocm.software/open-component-model/contribution/storage/s3"
	"ocm.software/open-component-model/contribution/storage/spec/v1alpha1"
	"ocm.software/open-component-model/contribution/storage/sqlite"
)

// DefaultType is used when no storage is configured.
var DefaultType = runtime.NewVersionedType(v1alpha1.FileSystemStorageType, v1alpha1.Version)

// Default returns a registry with all built-in backends registered under their
// versioned type and aliases.
func Default() *Registry {
	r := NewRegistry(v1alpha1.Scheme)
	r.MustRegister(TypedFactory(filesystem.NewFromSpec), typesOf(v1alpha1.FileSystemStorageType, v1alpha1.FileSystemShortType)...)
	r.MustRegister(TypedFactory(func(context.Context, *v1alpha1.MemoryStorage) (contribution.Storage, error) {
		return memory.New(), nil
	}), typesOf(v1alpha1.MemoryStorageType, v1alpha1.MemoryShortType)...)
	r.MustRegister(TypedFactory(sqlite.NewFromSpec), typesOf(v1alpha1.SQLiteStorageType, v1alpha1.SQLiteShortType)...)
	r.MustRegister(TypedFactory(s3.NewFromSpec), typesOf(v1alpha1.S3StorageType, v1alpha1.S3ShortType)...)
	return r
}

func typesOf(name, short string) []runtime.Type {
	return []runtime.Type{
		runtime.NewVersionedType(name, v1alpha1.Version),
		runtime.NewUnversionedType(name),
		runtime.NewUnversionedType(short),
	}
}
