package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"example.com/schcgate/internal/schc"
)

// SkippedFile records a record file the supplier could not use.
type SkippedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// DirSupplier yields the fragments of every *.json record in one directory,
// in file name order. Files that cannot be read or parsed are skipped and
// listed in Skipped.
type DirSupplier struct {
	dir     string
	files   []string
	pos     int
	pending []schc.RawFragment
	Skipped []SkippedFile
}

// OpenDir lists the record files of dir.
func OpenDir(dir string) (*DirSupplier, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return &DirSupplier{dir: dir, files: files}, nil
}

// Dir returns the directory being read.
func (d *DirSupplier) Dir() string {
	return d.dir
}

// Files returns the number of record files found.
func (d *DirSupplier) Files() int {
	return len(d.files)
}

func (d *DirSupplier) Next() (schc.RawFragment, error) {
	for len(d.pending) == 0 {
		if d.pos >= len(d.files) {
			return schc.RawFragment{}, io.EOF
		}
		path := d.files[d.pos]
		d.pos++
		frags, err := readRecord(path)
		if err != nil {
			d.Skipped = append(d.Skipped, SkippedFile{Path: path, Error: err.Error()})
			continue
		}
		d.pending = frags
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}

func readRecord(path string) ([]schc.RawFragment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRecord(b, filepath.Base(path))
}

// MessageDirs returns the directories under root that directly contain
// record files, sorted. root itself is included when it holds records.
func MessageDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		matches, err := filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return err
		}
		if len(matches) > 0 {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, errors.New("no record directories found")
	}
	sort.Strings(dirs)
	return dirs, nil
}
