// Package cache is the content-addressed store mapping a node's fingerprint
// to its committed output bundle. Entries are immutable once committed and
// survive process restarts; eviction only happens through explicit clearing.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/plotforge/plotforge/internal/model"
)

// ErrFingerprintCollision is returned when a fingerprint is re-committed
// with different content. Since the fingerprint encodes all effective
// inputs, a collision signals a hashing bug and is fatal to the whole run.
var ErrFingerprintCollision = errors.New("fingerprint collision: same fingerprint, different content")

// manifest is the on-disk record of one cache entry.
type manifest struct {
	Fingerprint  model.Fingerprint `json:"fingerprint"`
	BundleDigest string            `json:"bundleDigest"`
	Artifacts    []model.Artifact  `json:"artifacts"`
}

// Store persists cache entries under
// <root>/<fp[:2]>/<fp>/{manifest.json,data/}. Commits for the same
// fingerprint are serialized; distinct fingerprints are fully independent.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[model.Fingerprint]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Store{root: dir, locks: make(map[model.Fingerprint]*sync.Mutex)}, nil
}

// entryLock returns the mutex serializing access to one fingerprint.
func (s *Store) entryLock(fp model.Fingerprint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[fp]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[fp] = lock
	}
	return lock
}

// Lookup returns the committed bundle for a fingerprint, or nil on a miss.
// A partially written entry is never observable: commits land via rename.
func (s *Store) Lookup(fp model.Fingerprint) (*model.OutputBundle, error) {
	lock := s.entryLock(fp)
	lock.Lock()
	defer lock.Unlock()

	return s.read(fp)
}

func (s *Store) read(fp model.Fingerprint) (*model.OutputBundle, error) {
	entryDir := s.entryPath(fp)
	data, err := os.ReadFile(filepath.Join(entryDir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing cache manifest: %w", err)
	}

	return &model.OutputBundle{
		Root:      filepath.Join(entryDir, "data"),
		Artifacts: m.Artifacts,
	}, nil
}

// Commit persists a bundle under its fingerprint. The commit is atomic: the
// bundle's files are copied into a temp directory next to the entry and
// renamed into place. Re-committing identical content is idempotent;
// differing content returns ErrFingerprintCollision.
func (s *Store) Commit(fp model.Fingerprint, bundle *model.OutputBundle) error {
	if bundle == nil {
		return fmt.Errorf("cannot commit nil bundle")
	}

	lock := s.entryLock(fp)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := s.read(fp); err != nil {
		return err
	} else if existing != nil {
		if existing.Digest() != bundle.Digest() {
			return fmt.Errorf("%w: %s", ErrFingerprintCollision, fp)
		}
		return nil
	}

	entryDir := s.entryPath(fp)
	parentDir := filepath.Dir(entryDir)
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}

	// Stage the whole entry in a sibling temp dir so the rename happens on
	// the same filesystem.
	tmpDir, err := os.MkdirTemp(parentDir, "commit-")
	if err != nil {
		return fmt.Errorf("creating temp cache entry: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := copyTree(bundle.Root, filepath.Join(tmpDir, "data")); err != nil {
		return fmt.Errorf("copying bundle into cache: %w", err)
	}

	m := manifest{
		Fingerprint:  fp,
		BundleDigest: bundle.Digest(),
		Artifacts:    bundle.Artifacts,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, "manifest.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing cache manifest: %w", err)
	}

	if err := os.Rename(tmpDir, entryDir); err != nil {
		// A concurrent process may have created the entry between our read
		// and rename; treat an existing identical entry as success.
		if existing, rerr := s.read(fp); rerr == nil && existing != nil {
			if existing.Digest() != bundle.Digest() {
				return fmt.Errorf("%w: %s", ErrFingerprintCollision, fp)
			}
			return nil
		}
		return fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return nil
}

// Clear removes every committed entry. There is no automatic eviction; this
// is the only way entries disappear.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("listing cache root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("removing cache shard %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// entryPath shards entries by the first two fingerprint characters so no
// single directory grows unbounded.
func (s *Store) entryPath(fp model.Fingerprint) string {
	h := string(fp)
	if len(h) < 2 {
		return filepath.Join(s.root, h)
	}
	return filepath.Join(s.root, h[:2], h)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
