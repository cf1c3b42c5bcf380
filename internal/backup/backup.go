// Package backup snapshots the conversation store into timestamped archive
// directories and restores from them. It only ever copies store files; it
// never parses or mutates record contents.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Napageneral/recall/internal/store"
)

// ErrAmbiguous means a backup id prefix matched more than one snapshot.
var ErrAmbiguous = errors.New("ambiguous backup id")

const timestampLayout = "20060102T150405Z"

// Manager owns the backups/ directory next to the conversation store.
type Manager struct {
	storeDir   string
	backupsDir string
	maxBackups int
	interval   time.Duration

	mu       sync.Mutex
	lastAuto time.Time

	now func() time.Time
}

// Info describes one snapshot directory.
type Info struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Tag       string    `json:"tag,omitempty"`
	FileCount int       `json:"file_count"`
}

// New returns a manager snapshotting storeDir into backupsDir. maxBackups
// bounds retention (0 disables pruning); interval gates automatic backups.
func New(storeDir, backupsDir string, maxBackups int, interval time.Duration) *Manager {
	return &Manager{
		storeDir:   storeDir,
		backupsDir: backupsDir,
		maxBackups: maxBackups,
		interval:   interval,
		now:        time.Now,
	}
}

// Create copies every current conversation file into a new snapshot directory
// named by UTC timestamp, optionally suffixed with tag, then prunes old
// snapshots beyond the retention count. It returns the snapshot path.
func (m *Manager) Create(tag string) (string, error) {
	if strings.ContainsAny(tag, `/\`) {
		return "", fmt.Errorf("backup: tag %q contains a path separator", tag)
	}

	id := m.now().UTC().Format(timestampLayout)
	if tag != "" {
		id = id + "_" + tag
	}
	dir := filepath.Join(m.backupsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("backup: create %s: %w", dir, err)
	}

	files, err := conversationFiles(m.storeDir)
	if err != nil {
		return "", err
	}
	for _, name := range files {
		src := filepath.Join(m.storeDir, name)
		dst := filepath.Join(dir, name)
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
	}

	if err := m.prune(); err != nil {
		log.Warn().Err(err).Msg("backup prune failed")
	}
	return dir, nil
}

// MaybeAuto creates a backup when the configured interval has elapsed since
// the last automatic one. Wired as the store's after-save hook.
func (m *Manager) MaybeAuto() error {
	m.mu.Lock()
	if m.interval <= 0 || m.now().Sub(m.lastAuto) < m.interval {
		m.mu.Unlock()
		return nil
	}
	m.lastAuto = m.now()
	m.mu.Unlock()

	dir, err := m.Create("auto")
	if err != nil {
		return fmt.Errorf("backup: automatic snapshot: %w", err)
	}
	log.Debug().Str("dir", dir).Msg("automatic backup created")
	return nil
}

// List returns the known snapshots sorted newest-first. Directories whose
// names don't parse as snapshot ids are skipped; a snapshot with fewer files
// than expected is still listed.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("backup: read %s: %w", m.backupsDir, err)
	}

	infos := []Info{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, tag, ok := parseID(entry.Name())
		if !ok {
			continue
		}
		count, err := countFiles(filepath.Join(m.backupsDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{
			ID:        entry.Name(),
			Timestamp: ts,
			Tag:       tag,
			FileCount: count,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Timestamp.After(infos[j].Timestamp)
		}
		return infos[i].ID > infos[j].ID
	})
	return infos, nil
}

// Restore copies a snapshot's files back into the store directory. id may be
// an exact snapshot id or a unique prefix; a prefix matching more than one
// snapshot fails with ErrAmbiguous. Existing targets are skipped unless
// overwrite is set. Returns the number of files restored.
func (m *Manager) Restore(id string, overwrite bool) (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}

	var matches []Info
	for _, info := range infos {
		if info.ID == id {
			matches = []Info{info}
			break
		}
		if strings.HasPrefix(info.ID, id) {
			matches = append(matches, info)
		}
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("backup %s: %w", id, store.ErrNotFound)
	}
	if len(matches) > 1 {
		return 0, fmt.Errorf("backup %s matches %d snapshots: %w", id, len(matches), ErrAmbiguous)
	}

	srcDir := filepath.Join(m.backupsDir, matches[0].ID)
	files, err := conversationFiles(srcDir)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, name := range files {
		dst := filepath.Join(m.storeDir, name)
		if !overwrite {
			if _, err := os.Stat(dst); err == nil {
				continue
			}
		}
		if err := copyFile(filepath.Join(srcDir, name), dst); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// prune removes the oldest snapshots beyond maxBackups.
func (m *Manager) prune() error {
	if m.maxBackups <= 0 {
		return nil
	}
	infos, err := m.List()
	if err != nil {
		return err
	}
	for _, info := range infos[min(m.maxBackups, len(infos)):] {
		if err := os.RemoveAll(filepath.Join(m.backupsDir, info.ID)); err != nil {
			return fmt.Errorf("backup: remove %s: %w", info.ID, err)
		}
	}
	return nil
}

func parseID(name string) (ts time.Time, tag string, ok bool) {
	stamp := name
	if i := strings.Index(name, "_"); i >= 0 {
		stamp = name[:i]
		tag = name[i+1:]
	}
	t, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, tag, true
}

// conversationFiles lists the record files in dir, skipping lock sentinels,
// temp files and subdirectories.
func conversationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", dir, err)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func countFiles(dir string) (int, error) {
	names, err := conversationFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// copyFile copies src to a dotted temp file next to dst and renames it into
// place, so a concurrent reader of dst sees either the old file or the new
// one, never a truncated copy. The dot prefix keeps half-written temps out of
// snapshots and listings.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", src, err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return fmt.Errorf("backup: create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backup: copy %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backup: close %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backup: rename into %s: %w", dst, err)
	}
	return nil
}
