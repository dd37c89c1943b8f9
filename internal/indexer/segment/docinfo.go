package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/persistent-search-index/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/persistent-search-index/pkg/errors"
)

// WriteDocInfo writes one "docID;path;length" line per document. Callers
// pass docs already sorted by DocID.
func WriteDocInfo(path string, docs []index.DocInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating doc-info file: %w", err)
	}
	bw := bufio.NewWriter(f)
	for _, d := range docs {
		if err := ValidDocPath(d.Path); err != nil {
			f.Close()
			return err
		}
		fmt.Fprintf(bw, "%d;%s;%d\n", d.DocID, d.Path, d.Length)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing doc-info file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing doc-info file: %w", err)
	}
	return f.Close()
}

// ValidDocPath rejects paths that would break the doc-info line format.
func ValidDocPath(path string) error {
	if strings.ContainsAny(path, ";\r\n") {
		return fmt.Errorf("%w: document path %q contains a separator", apperrors.ErrInvalidInput, path)
	}
	return nil
}

// ReadDocInfo parses a doc-info file. A missing file yields no documents.
func ReadDocInfo(path string) ([]index.DocInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening doc-info file: %w", err)
	}
	defer f.Close()
	var docs []index.DocInfo
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		parts := strings.Split(text, ";")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %s line %d: %q", apperrors.ErrCorruptRecord, path, line, text)
		}
		docID, err1 := strconv.Atoi(parts[0])
		length, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: %s line %d: %q", apperrors.ErrCorruptRecord, path, line, text)
		}
		docs = append(docs, index.DocInfo{DocID: docID, Path: parts[1], Length: length})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading doc-info file: %w", err)
	}
	return docs, nil
}

// AppendDocInfo appends the lines of src to dst, creating dst if needed.
func AppendDocInfo(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening doc-info file %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening doc-info file %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("appending doc-info: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("syncing doc-info: %w", err)
	}
	return out.Close()
}
