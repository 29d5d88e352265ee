package cut

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// LoadManifestLazy returns a CutSet that streams cuts from a JSON-lines
// manifest. Files ending in .gz are decompressed on the fly. The file is
// opened on every iteration; a missing file surfaces as an iteration error.
func LoadManifestLazy(path string) *CutSet {
	return &CutSet{
		desc: filepath.Base(path),
		seq: func(yield func(Cut, error) bool) {
			if err := readManifest(path, func(c Cut) bool { return yield(c, nil) }); err != nil {
				yield(Cut{}, err)
			}
		},
	}
}

// LoadManifest reads a whole manifest into memory.
func LoadManifest(path string) (*CutSet, error) {
	var cuts []Cut
	err := readManifest(path, func(c Cut) bool {
		cuts = append(cuts, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	set := FromCuts(cuts)
	set.desc = filepath.Base(path)
	return set, nil
}

// WriteManifest writes cuts as JSON lines, gzip-compressed when path ends in .gz.
func WriteManifest(path string, cuts []Cut) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if isGzip(path) {
		gz := gzip.NewWriter(f)
		defer func() {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}()
		w = gz
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range cuts {
		if err := enc.Encode(&cuts[i]); err != nil {
			return fmt.Errorf("encode cut %s: %w", cuts[i].ID, err)
		}
	}
	return bw.Flush()
}

func readManifest(path string, emit func(Cut) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if isGzip(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open manifest %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	br := bufio.NewReaderSize(r, 1<<20)
	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				var c Cut
				if err := json.Unmarshal(line, &c); err != nil {
					return fmt.Errorf("%s:%d: %w", path, lineNo, err)
				}
				if !emit(c) {
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read manifest %s: %w", path, readErr)
		}
	}
}

func isGzip(path string) bool {
	return strings.HasSuffix(path, ".gz")
}
