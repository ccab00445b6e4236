// Package snapshotstore implements the content-addressed store of
// spec.md §4.3 for execution snapshots and pinned compiled workflows:
// put canonicalizes and hashes a value and writes it via the same
// rename-then-fsync dance as the session event log; get re-verifies
// the digest on every read. Grounded on the same atomic-file-write
// idiom as corepkg/sessionstore (itself grounded on
// vinayprograms-agent/src/internal/session/session.go's
// write-tmp-then-rename FileStore.Save), and on
// roach88-nysm/internal/ir's SHA-256 content-addressing scheme for IR
// nodes.
package snapshotstore

import (
	"os"
	"path/filepath"

	"github.com/durableflow/engine/corepkg/apperr"
	"github.com/durableflow/engine/corepkg/canonjson"
	"github.com/durableflow/engine/corepkg/id"
)

// Store is a content-addressed JSON blob store rooted at one
// directory (either `<data>/snapshots/` or `<data>/workflows/`, both
// use this same store).
type Store struct {
	dir string
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.NewSnapshotStoreIOError("mkdir", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(digest string) string {
	// digest is "sha256:<hex>"; on-disk name per spec.md §4.3 is
	// "sha256_<hex>.json".
	hexPart := digest[len("sha256:"):]
	return filepath.Join(s.dir, "sha256_"+hexPart+".json")
}

// Put canonicalizes v, computes its sha256 digest, and writes it to
// disk via open(tmp,O_TRUNC) -> writeAll -> fsync(file) ->
// rename(tmp->final) -> fsync(dir). If the destination already
// exists, Put is a no-op (content addressing guarantees the bytes are
// identical), matching spec.md's "second put of same content is a
// no-op".
func (s *Store) Put(v any) (id.SnapshotRef, error) {
	canonical, err := canonjson.Marshal(v)
	if err != nil {
		return "", err
	}
	digest := id.Sha256Hex(canonical)
	final := s.pathFor(digest)

	if _, err := os.Stat(final); err == nil {
		return id.SnapshotRef(digest), nil
	}

	tmp := final + ".tmp-" + id.NewTempSuffix()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", apperr.NewSnapshotStoreIOError("open", tmp, err)
	}
	if _, err := f.Write(canonical); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", apperr.NewSnapshotStoreIOError("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", apperr.NewSnapshotStoreIOError("fsync", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", apperr.NewSnapshotStoreIOError("close", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", apperr.NewSnapshotStoreIOError("rename", final, err)
	}
	if err := fsyncDir(s.dir); err != nil {
		return "", apperr.NewSnapshotStoreIOError("fsync_dir", s.dir, err)
	}

	return id.SnapshotRef(digest), nil
}

// Get reads the blob named by ref, re-verifies its digest against the
// bytes actually on disk, and decodes it into v.
func (s *Store) Get(ref id.SnapshotRef, v any) error {
	if err := id.ValidateDigest(string(ref)); err != nil {
		return apperr.NewCorruption(apperr.CorruptionTail, apperr.ReasonDigestMismatch, err.Error())
	}
	path := s.pathFor(string(ref))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.ErrSnapshotStoreCorruption
		}
		return apperr.NewSnapshotStoreIOError("read", path, err)
	}

	actual := id.Sha256Hex(raw)
	if actual != string(ref) {
		return apperr.ErrSnapshotStoreDigestMismatch
	}

	return canonjson.UnmarshalInto(raw, v)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
