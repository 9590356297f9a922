// Package filesystem provides the default contribution storage: a directory holding
//   - the index at IndexFileName
//   - the content of every contribution as a content addressed blob under BlobsDirectoryName
//   - the lock file LockFileName shared by all processes using the directory
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/storage/spec/v1alpha1"
)

const (
	BlobsDirectoryName = "blobs"
	LockFileName       = "contribution-index.lock"
)

// Storage is a contribution.Storage backed by a directory.
// All access is confined to the directory through an os.Root. Reads take a shared
// and writes an exclusive lock on LockFileName, so several processes can use the
// same directory.
type Storage struct {
	mu   sync.RWMutex
	root *os.Root
	path string
}

var _ contribution.Storage = (*Storage)(nil)

// New opens (and creates if necessary) the storage directory at path.
func New(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path must not be empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create storage directory %q: %w", path, err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open storage directory %q: %w", path, err)
	}
	if err := root.MkdirAll(BlobsDirectoryName, 0o755); err != nil {
		return nil, errors.Join(fmt.Errorf("unable to create blob directory: %w", err), root.Close())
	}
	return &Storage{root: root, path: path}, nil
}

// NewFromSpec creates the storage described by spec, defaulting the path when unset.
func NewFromSpec(_ context.Context, spec *v1alpha1.FileSystemStorage) (contribution.Storage, error) {
	path := spec.Path
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	return New(path)
}

// DefaultPath is $XDG_DATA_HOME/contributions, falling back to ~/.local/share/contributions.
func DefaultPath() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "contributions"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine default storage path: %w", err)
	}
	return filepath.Join(home, ".local", "share", "contributions"), nil
}

func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) Close() error {
	return s.root.Close()
}

func (s *Storage) List(_ context.Context) ([]*contribution.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := s.lock(false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	list := make([]*contribution.Contribution, 0, len(idx.Contributions))
	for _, entry := range idx.Contributions {
		c, err := s.load(entry)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, nil
}

func (s *Storage) Get(_ context.Context, name string) (*contribution.Contribution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unlock, err := s.lock(false)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, false, err
	}
	i := idx.find(name)
	if i < 0 {
		return nil, false, nil
	}
	c, err := s.load(idx.Contributions[i])
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *Storage) Add(ctx context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(true)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, false, err
	}
	if idx.find(c.Name) >= 0 {
		return nil, false, nil
	}
	dig, err := s.writeBlob(c.Content)
	if err != nil {
		return nil, false, err
	}
	idx.Contributions = append(idx.Contributions, entryFor(c, dig))
	if err := s.writeIndex(idx); err != nil {
		return nil, false, err
	}
	slog.DebugContext(ctx, "stored contribution", slog.String("name", c.Name), slog.String("digest", dig.String()))
	return c.DeepCopy(), true, nil
}

func (s *Storage) Remove(ctx context.Context, c *contribution.Contribution) (bool, error) {
	if err := contribution.Validate(c); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(true)
	if err != nil {
		return false, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return false, err
	}
	i := idx.find(c.Name)
	if i < 0 {
		return false, nil
	}
	old := idx.Contributions[i]
	idx.Contributions = append(idx.Contributions[:i], idx.Contributions[i+1:]...)
	if err := s.writeIndex(idx); err != nil {
		return false, err
	}
	s.collectBlob(ctx, idx, old.Digest)
	return true, nil
}

func (s *Storage) Update(ctx context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(true)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, false, err
	}
	i := idx.find(c.Name)
	if i < 0 {
		return nil, false, nil
	}
	dig, err := s.writeBlob(c.Content)
	if err != nil {
		return nil, false, err
	}
	old := idx.Contributions[i]
	idx.Contributions[i] = entryFor(c, dig)
	if err := s.writeIndex(idx); err != nil {
		return nil, false, err
	}
	if old.Digest != dig.String() {
		s.collectBlob(ctx, idx, old.Digest)
	}
	return c.DeepCopy(), true, nil
}

func entryFor(c *contribution.Contribution, dig digest.Digest) Entry {
	return Entry{
		Name:        c.Name,
		Description: c.Description,
		Disabled:    c.Disabled,
		Digest:      dig.String(),
	}
}

// lock opens the lock file and locks it. The returned func releases the lock.
// Every call uses its own file so locks of concurrent calls never share a descriptor.
func (s *Storage) lock(exclusive bool) (func(), error) {
	file, err := s.root.OpenFile(LockFileName, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to open storage lock: %w", err)
	}
	if err := lockFile(file, exclusive); err != nil {
		return nil, errors.Join(fmt.Errorf("unable to lock storage directory: %w", err), file.Close())
	}
	return func() {
		_ = file.Close()
	}, nil
}

// readIndex returns an empty index if none was written yet.
func (s *Storage) readIndex() (idx *Index, err error) {
	file, err := s.root.Open(IndexFileName)
	if errors.Is(err, fs.ErrNotExist) {
		return NewIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open contribution index: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	fi, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("unable to stat contribution index: %w", err)
	}
	if fi.Size() == 0 {
		return NewIndex(), nil
	}
	if idx, err = DecodeIndex(file); err != nil {
		return nil, fmt.Errorf("unable to decode contribution index: %w", err)
	}
	return idx, nil
}

func (s *Storage) writeIndex(idx *Index) error {
	data, err := EncodeIndex(idx)
	if err != nil {
		return fmt.Errorf("unable to encode contribution index: %w", err)
	}
	if err := s.replaceFile(IndexFileName, data); err != nil {
		return fmt.Errorf("unable to write contribution index: %w", err)
	}
	return nil
}

func (s *Storage) writeBlob(content []byte) (digest.Digest, error) {
	dig := digest.FromBytes(content)
	name := filepath.Join(BlobsDirectoryName, ToBlobFileName(dig))
	if _, err := s.root.Stat(name); err == nil {
		return dig, nil
	}
	if err := s.replaceFile(name, content); err != nil {
		return "", fmt.Errorf("unable to write blob %s: %w", dig, err)
	}
	return dig, nil
}

// replaceFile writes data next to name and renames it into place so readers never see partial files.
func (s *Storage) replaceFile(name string, data []byte) error {
	tmp := name + "." + uuid.NewString() + ".tmp"
	if err := s.root.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := s.root.Rename(tmp, name); err != nil {
		return errors.Join(err, s.root.Remove(tmp))
	}
	return nil
}

func (s *Storage) load(entry Entry) (*contribution.Contribution, error) {
	dig, err := digest.Parse(entry.Digest)
	if err != nil {
		return nil, fmt.Errorf("contribution %q has an invalid digest: %w", entry.Name, err)
	}
	content, err := s.root.ReadFile(filepath.Join(BlobsDirectoryName, ToBlobFileName(dig)))
	if err != nil {
		return nil, fmt.Errorf("unable to read content of contribution %q: %w", entry.Name, err)
	}
	verifier := dig.Verifier()
	if _, err := verifier.Write(content); err != nil {
		return nil, fmt.Errorf("unable to verify content of contribution %q: %w", entry.Name, err)
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("content of contribution %q does not match digest %s", entry.Name, dig)
	}
	return &contribution.Contribution{
		Name:        entry.Name,
		Description: entry.Description,
		Content:     content,
		Disabled:    entry.Disabled,
	}, nil
}

// collectBlob removes a blob that is no longer referenced by the index.
// Failing to do so leaves garbage but no inconsistency, so it is only logged.
func (s *Storage) collectBlob(ctx context.Context, idx *Index, dig string) {
	if idx.references(dig) {
		return
	}
	parsed, err := digest.Parse(dig)
	if err != nil {
		return
	}
	if err := s.root.Remove(filepath.Join(BlobsDirectoryName, ToBlobFileName(parsed))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "could not remove unreferenced blob", slog.String("digest", dig), slog.String("error", err.Error()))
	}
}

// ToBlobFileName converts a digest to a file name by replacing ":" with ".".
func ToBlobFileName(dig digest.Digest) string {
	return strings.ReplaceAll(dig.String(), ":", ".")
}
