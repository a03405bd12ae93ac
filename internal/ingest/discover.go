package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// Candidate is a file in the watch directory that is not yet in the ledger.
type Candidate struct {
	Path    string
	ID      model.FileID
	Size    int64
	ModTime time.Time
}

// Unreadable is a matched entry that could not be stat'ed or hashed.
type Unreadable struct {
	Name string
	Err  error
}

// Discover enumerates files matching the configured pattern and returns those
// whose (name, checksum) identity is not in the ledger, in lexicographic
// order of their name. Entries that cannot be inspected are returned
// separately and do not hold back the rest of the directory.
func (l *Loop) Discover() ([]Candidate, []Unreadable, error) {
	matches, err := Match(l.cfg.WatchDir, l.cfg.Pattern)
	if err != nil {
		return nil, nil, err
	}

	var (
		out     []Candidate
		skipped []Unreadable
	)
	for _, path := range matches {
		if filepath.Base(path) == LockName {
			continue
		}
		c, ok, err := inspect(l.cfg.WatchDir, path)
		if err != nil {
			skipped = append(skipped, Unreadable{Name: relName(l.cfg.WatchDir, path), Err: err})
			continue
		}
		if !ok || l.ledger.Has(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out, skipped, nil
}

// Match returns regular files under dir matching pattern, sorted by their
// slash-separated path relative to dir.
func Match(dir, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, eris.Errorf("ingest: invalid pattern %q", pattern)
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: glob %s", pattern)
	}
	sort.Slice(matches, func(i, j int) bool {
		return relName(dir, matches[i]) < relName(dir, matches[j])
	})
	return matches, nil
}

// inspect stats and hashes path. Non-regular files and files that vanished
// since the glob are skipped.
func inspect(dir, path string) (Candidate, bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Candidate{}, false, nil
	}
	if err != nil {
		return Candidate{}, false, eris.Wrapf(err, "ingest: stat %s", path)
	}
	if !info.Mode().IsRegular() {
		return Candidate{}, false, nil
	}

	sum, err := hashFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Candidate{}, false, nil
	}
	if err != nil {
		return Candidate{}, false, err
	}

	return Candidate{
		Path:    path,
		ID:      model.FileID{Name: relName(dir, path), Checksum: sum},
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}, true, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "ingest: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum returns the hex SHA-256 of data, the content half of a file
// identity.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func relName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
