package segment

import (
	"bufio"
	"fmt"
	"os"
)

// WriteTokenList writes one token per line.
func WriteTokenList(path string, tokens []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating token list: %w", err)
	}
	bw := bufio.NewWriter(f)
	for _, tok := range tokens {
		bw.WriteString(tok)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing token list: %w", err)
	}
	return f.Close()
}

// DumpTokens rebuilds a segment's token list from its dictionary. It is used
// when the scratch directory was cleaned but the segment survived.
func DumpTokens(r *Reader, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating token list: %w", err)
	}
	bw := bufio.NewWriter(f)
	n := 0
	err = r.ForEachToken(func(token string) error {
		n++
		if _, err := bw.WriteString(token); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	})
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("dumping tokens of %s: %w", r.Paths().Dictionary, err)
	}
	return n, nil
}
