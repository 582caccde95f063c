package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/lfgcalc/internal/emissions"
)

const (
	// DefaultStaleLockAge is how old a lock file may get before it is
	// assumed to belong to a crashed process.
	DefaultStaleLockAge = 10 * time.Minute

	lockPollInterval = 100 * time.Millisecond
)

// LocalStore keeps artifacts as <dir>/<name>.csv with metadata in
// <dir>/<name>_metadata.json.
type LocalStore struct {
	dir          string
	staleLockAge time.Duration
	logger       zerolog.Logger
}

// NewLocalStore returns a store rooted at dir. The directory is created on
// first write.
func NewLocalStore(dir string, logger zerolog.Logger) *LocalStore {
	return &LocalStore{
		dir:          dir,
		staleLockAge: DefaultStaleLockAge,
		logger:       logger.With().Str("component", "artifact").Logger(),
	}
}

// WithStaleLockAge overrides DefaultStaleLockAge. Zero disables stale lock
// recovery.
func (s *LocalStore) WithStaleLockAge(age time.Duration) *LocalStore {
	s.staleLockAge = age
	return s
}

// Dir returns the store root.
func (s *LocalStore) Dir() string { return s.dir }

// DataPath returns the CSV path for name.
func (s *LocalStore) DataPath(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

// MetadataPath returns the metadata path for name.
func (s *LocalStore) MetadataPath(name string) string {
	return filepath.Join(s.dir, name+"_metadata.json")
}

func (s *LocalStore) lockPath(name string) string {
	return filepath.Join(s.dir, name+".lock")
}

// ValidName rejects method names that would not map to a single file
// inside the store directory.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || !fs.ValidPath(name) || strings.ContainsAny(name, `/\:`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Load reads and parses both files for name. A missing file yields an error
// matching ErrNotFound. Files that cannot be parsed, or a CSV that is not
// the one the metadata was written for, yield ErrCorrupt.
func (s *LocalStore) Load(name string) (*emissions.Table, Metadata, error) {
	if err := ValidName(name); err != nil {
		return nil, Metadata{}, err
	}
	data, err := readLocal(s.DataPath(name))
	if err != nil {
		return nil, Metadata{}, err
	}
	metaData, err := readLocal(s.MetadataPath(name))
	if err != nil {
		return nil, Metadata{}, err
	}
	meta, err := DecodeMetadata(metaData)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%s: %w", s.MetadataPath(name), err)
	}
	if err := meta.Verify(data); err != nil {
		return nil, Metadata{}, fmt.Errorf("%s: %w", s.DataPath(name), err)
	}
	table, err := emissions.ReadCSVWithDefaults(bytes.NewReader(data), meta.Unit, meta.InitialYear)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.DataPath(name), err)
	}
	return table, meta, nil
}

func readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

// Save writes table and meta for name. The metadata records the digest of
// the CSV, so Load rejects a CSV paired with another run's metadata.
func (s *LocalStore) Save(name string, table *emissions.Table, meta Metadata) error {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	meta.DataSHA256 = DataDigest(buf.Bytes())
	metaData, err := EncodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("encoding %s metadata: %w", name, err)
	}
	return s.SaveRaw(name, buf.Bytes(), metaData)
}

// SaveRaw writes already encoded artifact files for name.
func (s *LocalStore) SaveRaw(name string, data, metaData []byte) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := writeAtomic(s.DataPath(name), data); err != nil {
		return err
	}
	return writeAtomic(s.MetadataPath(name), metaData)
}

// writeAtomic replaces path with data through a temp file in the same
// directory.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// Lock takes the exclusive lock for name, waiting while another holder has
// it. The returned function releases the lock; it is safe to call once on
// every exit path. If ctx ends first the error matches ErrLocked.
func (s *LocalStore) Lock(ctx context.Context, name string) (func(), error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	path := s.lockPath(name)

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn().Err(err).Str("path", path).Msg("failed to release lock")
				}
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock %s: %w", path, err)
		}
		if s.breakStaleLock(path) {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLocked, path, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *LocalStore) breakStaleLock(path string) bool {
	if s.staleLockAge <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) < s.staleLockAge {
		return false
	}
	if err := os.Remove(path); err != nil {
		return false
	}
	s.logger.Warn().
		Str("path", path).
		Time("modified", info.ModTime()).
		Msg("removed stale lock")
	return true
}
