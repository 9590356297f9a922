// Package v1alpha1 contains the typed configuration of the built-in storage backends.
package v1alpha1

import (
	"ocm.software/open-component-model/contribution/runtime"
)

const Version = "v1alpha1"

const (
	FileSystemStorageType = "FileSystemStorage"
	MemoryStorageType     = "MemoryStorage"
	SQLiteStorageType     = "SQLiteStorage"
	S3StorageType         = "S3Storage"
)

// Short aliases accepted in configuration files and on the command line.
const (
	FileSystemShortType = "filesystem"
	MemoryShortType     = "memory"
	SQLiteShortType     = "sqlite"
	S3ShortType         = "s3"
)

// FileSystemStorage keeps contributions in a directory: an index document plus
// content addressed blobs.
type FileSystemStorage struct {
	Type runtime.Type `json:"type"`
	// Path is the root directory. It is created if it does not exist.
	Path string `json:"path"`
}

// MemoryStorage keeps contributions in process memory only.
type MemoryStorage struct {
	Type runtime.Type `json:"type"`
}

// SQLiteStorage keeps contributions in a single SQLite database file.
type SQLiteStorage struct {
	Type runtime.Type `json:"type"`
	Path string       `json:"path"`
}

// S3Storage keeps one object per contribution in an S3 compatible bucket.
type S3Storage struct {
	Type   runtime.Type `json:"type"`
	Bucket string       `json:"bucket"`
	// Prefix is prepended to every object key, e.g. "contributions/".
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	// UsePathStyle forces path style addressing, needed by most S3 compatible servers.
	UsePathStyle bool `json:"usePathStyle,omitempty"`
}

func (s *FileSystemStorage) GetType() runtime.Type { return s.Type }
func (s *FileSystemStorage) SetType(typ runtime.Type) { s.Type = typ }
func (s *FileSystemStorage) DeepCopyTyped() runtime.Typed {
	cp := *s
	return &cp
}

func (s *MemoryStorage) GetType() runtime.Type { return s.Type }
func (s *MemoryStorage) SetType(typ runtime.Type) { s.Type = typ }
func (s *MemoryStorage) DeepCopyTyped() runtime.Typed {
	cp := *s
	return &cp
}

func (s *SQLiteStorage) GetType() runtime.Type { return s.Type }
func (s *SQLiteStorage) SetType(typ runtime.Type) { s.Type = typ }
func (s *SQLiteStorage) DeepCopyTyped() runtime.Typed {
	cp := *s
	return &cp
}

func (s *S3Storage) GetType() runtime.Type { return s.Type }
func (s *S3Storage) SetType(typ runtime.Type) { s.Type = typ }
func (s *S3Storage) DeepCopyTyped() runtime.Typed {
	cp := *s
	return &cp
}

// Scheme knows all built-in storage configuration types and their aliases.
var Scheme = runtime.NewScheme()

func init() {
	Scheme.MustRegisterWithAlias(&FileSystemStorage{},
		runtime.NewVersionedType(FileSystemStorageType, Version),
		runtime.NewUnversionedType(FileSystemStorageType),
		runtime.NewUnversionedType(FileSystemShortType),
	)
	Scheme.MustRegisterWithAlias(&MemoryStorage{},
		runtime.NewVersionedType(MemoryStorageType, Version),
		runtime.NewUnversionedType(MemoryStorageType),
		runtime.NewUnversionedType(MemoryShortType),
	)
	Scheme.MustRegisterWithAlias(&SQLiteStorage{},
		runtime.NewVersionedType(SQLiteStorageType, Version),
		runtime.NewUnversionedType(SQLiteStorageType),
		runtime.NewUnversionedType(SQLiteShortType),
	)
	Scheme.MustRegisterWithAlias(&S3Storage{},
		runtime.NewVersionedType(S3StorageType, Version),
		runtime.NewUnversionedType(S3StorageType),
		runtime.NewUnversionedType(S3ShortType),
	)
}
