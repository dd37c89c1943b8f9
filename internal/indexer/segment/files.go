package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const (
	DictionaryFile = "dictionary"
	DataFile       = "data"
	DocInfoFile    = "docInfo"
	TempDir        = "temp"
	rawPrefix      = "raw"
)

// Paths names the files that make up one segment.
type Paths struct {
	Dictionary string
	Data       string
	DocInfo    string
}

// BasePaths are the canonical base segment files in dir.
func BasePaths(dir string) Paths {
	return Paths{
		Dictionary: filepath.Join(dir, DictionaryFile),
		Data:       filepath.Join(dir, DataFile),
		DocInfo:    filepath.Join(dir, DocInfoFile),
	}
}

// PendingPaths are the files of pending segment batch (batch >= 1).
func PendingPaths(dir string, batch int) Paths {
	suffix := strconv.Itoa(batch)
	return Paths{
		Dictionary: filepath.Join(dir, DictionaryFile+suffix),
		Data:       filepath.Join(dir, DataFile+suffix),
		DocInfo:    filepath.Join(dir, DocInfoFile+suffix),
	}
}

// StagingPaths are where the daemon builds the next base segment before the
// swap. They live in the scratch directory on the same filesystem as the
// base so the swap is a plain rename.
func StagingPaths(dir string) Paths {
	tmp := ScratchDir(dir)
	return Paths{
		Dictionary: filepath.Join(tmp, DictionaryFile),
		Data:       filepath.Join(tmp, DataFile),
	}
}

// ScratchDir holds token lists, sort blocks and the staging base segment.
func ScratchDir(dir string) string {
	return filepath.Join(dir, TempDir)
}

// RawTokensPath is the per-batch token list written during a flush.
func RawTokensPath(dir string, batch int) string {
	return filepath.Join(ScratchDir(dir), rawPrefix+strconv.Itoa(batch))
}

// Exists reports whether the dictionary and data files are both present.
func (p Paths) Exists() bool {
	for _, f := range []string{p.Dictionary, p.Data} {
		if _, err := os.Stat(f); err != nil {
			return false
		}
	}
	return true
}

// Remove deletes every file of the segment that exists.
func (p Paths) Remove() error {
	var errs []error
	for _, f := range []string{p.Dictionary, p.Data, p.DocInfo} {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var pendingDictRe = regexp.MustCompile(`^` + DictionaryFile + `(\d+)$`)

// ListPending returns the batch numbers of pending segments found in dir in
// increasing order.
func ListPending(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	var batches []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pendingDictRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		batches = append(batches, n)
	}
	sort.Ints(batches)
	return batches, nil
}
