package segment

import (
	"fmt"
	"os"
	"time"
)

type fileStamp struct {
	info    os.FileInfo
	size    int64
	modTime time.Time
}

// DirState identifies the segment files of a data directory as they were
// when it was taken. Two states differ once a segment is written, folded or
// swapped.
type DirState struct {
	files map[string]fileStamp
}

// StatDir records the base and every pending segment in dir.
func StatDir(dir string) (DirState, error) {
	state := DirState{files: make(map[string]fileStamp)}
	batches, err := ListPending(dir)
	if err != nil {
		return state, err
	}
	all := []Paths{BasePaths(dir)}
	for _, b := range batches {
		all = append(all, PendingPaths(dir, b))
	}
	for _, p := range all {
		for _, f := range []string{p.Dictionary, p.Data, p.DocInfo} {
			info, err := os.Stat(f)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return state, fmt.Errorf("stat %s: %w", f, err)
			}
			state.files[f] = fileStamp{info: info, size: info.Size(), modTime: info.ModTime()}
		}
	}
	return state, nil
}

// Equal reports whether both states saw the same files with the same size
// and modification time.
func (s DirState) Equal(o DirState) bool {
	if s.files == nil || o.files == nil || len(s.files) != len(o.files) {
		return false
	}
	for name, a := range s.files {
		b, ok := o.files[name]
		if !ok || a.size != b.size || !a.modTime.Equal(b.modTime) || !os.SameFile(a.info, b.info) {
			return false
		}
	}
	return true
}
