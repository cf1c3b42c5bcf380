// Package store maps conversations onto lock-protected JSON files. One file
// per conversation per lifecycle status, written atomically via a temp file
// and rename so a reader can never observe a partially written record.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Napageneral/recall/internal/schema"
)

// Status is the lifecycle state encoded in a conversation's filename.
type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusProcessed   Status = "processed"
)

const DefaultLockTimeout = 10 * time.Second

// Store owns the on-disk representation of conversation records. All access
// to the conversation directory goes through its path mapping and locks.
type Store struct {
	dir         string
	lockTimeout time.Duration
	locks       *lockRegistry

	// afterSave runs after every successful save. Best effort: its error is
	// logged and swallowed, never returned to the saving caller.
	afterSave func() error
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds lock acquisition. Zero or negative values keep the
// default.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithAfterSave installs a hook that runs after each successful save,
// typically the backup manager's interval-gated auto backup.
func WithAfterSave(fn func() error) Option {
	return func(s *Store) { s.afterSave = fn }
}

// New creates the conversation directory if needed and returns a store
// rooted there.
func New(dir string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store: empty directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}
	s := &Store{
		dir:         dir,
		lockTimeout: DefaultLockTimeout,
		locks:       newLockRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the conversation directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path for a conversation in the given status.
func (s *Store) Path(id string, status Status) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", id, status))
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("store: empty conversation id")
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("store: conversation id %q contains a path separator", id)
	}
	return nil
}

// Save serializes the record to its unprocessed path. Without force, an
// existing file fails with ErrAlreadyExists. The write goes to a temp file in
// the same directory and is renamed into place under the exclusive path lock.
func (s *Store) Save(rec *schema.Record, force bool) error {
	id := rec.Metadata.ID.String()
	if err := validateID(id); err != nil {
		return err
	}
	data, err := schema.Marshal(rec, true)
	if err != nil {
		return err
	}

	dest := s.Path(id, StatusUnprocessed)
	err = s.withExclusive(dest, func() error {
		if _, statErr := os.Stat(dest); statErr == nil && !force {
			return fmt.Errorf("conversation %s: %w", id, ErrAlreadyExists)
		}
		return writeAtomic(dest, data)
	})
	if err != nil {
		return err
	}

	if s.afterSave != nil {
		if hookErr := s.afterSave(); hookErr != nil {
			log.Warn().Err(hookErr).Str("conversation", id).
				Msg("post-save hook failed")
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in dest's directory and renames it
// into place, so either the old file or the new one is visible, never a
// truncated write.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp*")
	if err != nil {
		return fmt.Errorf("store: create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename into %s: %w", dest, err)
	}
	return nil
}

// Load reads the most current representation of a conversation. With
// requireUnprocessed only the unprocessed path is considered and a missing
// file is ErrNotFound; otherwise the unprocessed path is tried first, then
// the processed one.
func (s *Store) Load(id string, requireUnprocessed bool) (*schema.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	paths := []string{s.Path(id, StatusUnprocessed)}
	if !requireUnprocessed {
		paths = append(paths, s.Path(id, StatusProcessed))
	}

	for _, path := range paths {
		var data []byte
		err := s.withShared(path, func() error {
			b, readErr := os.ReadFile(path)
			if readErr != nil {
				return readErr
			}
			data = b
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("store: read %s: %w", path, err)
		}
		return schema.Unmarshal(data)
	}
	return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
}

// MarkProcessed renames a conversation's file from unprocessed to processed.
// Both path locks are held for the rename so a concurrent save or load never
// observes a half-renamed state. Missing source is ErrNotFound, existing
// destination is ErrAlreadyExists.
func (s *Store) MarkProcessed(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	src := s.Path(id, StatusUnprocessed)
	dst := s.Path(id, StatusProcessed)

	// Lock order is fixed (unprocessed first) so concurrent MarkProcessed
	// calls cannot deadlock.
	return s.withExclusive(src, func() error {
		return s.withExclusive(dst, func() error {
			if _, err := os.Stat(dst); err == nil {
				return fmt.Errorf("conversation %s already processed: %w", id, ErrAlreadyExists)
			}
			if _, err := os.Stat(src); err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
				}
				return fmt.Errorf("store: stat %s: %w", src, err)
			}
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("store: rename %s to %s: %w", src, dst, err)
			}
			return nil
		})
	})
}

// Delete removes a conversation file in the given status under its exclusive
// lock. A missing file is ErrNotFound.
func (s *Store) Delete(id string, status Status) error {
	if err := validateID(id); err != nil {
		return err
	}
	path := s.Path(id, status)
	return s.withExclusive(path, func() error {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("conversation %s (%s): %w", id, status, ErrNotFound)
			}
			return fmt.Errorf("store: remove %s: %w", path, err)
		}
		return nil
	})
}

// List returns the conversation ids present in the store, filtered to the
// given statuses, or all ids when no status is given.
func (s *Store) List(statuses ...Status) ([]string, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusUnprocessed, StatusProcessed}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read directory %s: %w", s.dir, err)
	}

	seen := make(map[string]struct{})
	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, status := range statuses {
			id, ok := parseFilename(entry.Name(), status)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func parseFilename(name string, status Status) (string, bool) {
	suffix := fmt.Sprintf("_%s.json", status)
	if !strings.HasSuffix(name, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(name, suffix)
	if id == "" || strings.HasPrefix(id, ".") {
		return "", false
	}
	return id, true
}

// Stats reports processed/unprocessed/total conversation counts.
type Stats struct {
	Unprocessed int `json:"unprocessed"`
	Processed   int `json:"processed"`
	Total       int `json:"total"`
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	unprocessed, err := s.List(StatusUnprocessed)
	if err != nil {
		return st, err
	}
	processed, err := s.List(StatusProcessed)
	if err != nil {
		return st, err
	}
	st.Unprocessed = len(unprocessed)
	st.Processed = len(processed)
	st.Total = st.Unprocessed + st.Processed
	return st, nil
}
