package database

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// Row is one CSV record keyed by column name.
type Row map[string]string

// Table is a CSV file with a header row. Writers are serialized in-process by
// a mutex and across processes by an advisory lock on "<path>.lock", so the
// web server and the CLI can share the same files.
type Table struct {
	path    string
	columns []string

	mu   sync.Mutex
	lock *flock.Flock
}

// NewTable returns a table stored at path with the given columns.
// The file is created lazily on first access.
func NewTable(path string, columns []string) *Table {
	return &Table{
		path:    path,
		columns: slices.Clone(columns),
		lock:    flock.New(path + ".lock"),
	}
}

// Path returns the file location.
func (t *Table) Path() string {
	return t.path
}

// Columns returns the column layout used for writing.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

func (t *Table) withLock(fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", filepath.Base(t.path), err)
	}
	defer t.lock.Unlock()

	return fn()
}

// Rows returns every record in file order. A missing file reads as empty.
func (t *Table) Rows() ([]Row, error) {
	var rows []Row
	err := t.withLock(func() error {
		var err error
		rows, _, err = t.read()
		return err
	})
	return rows, err
}

// Append writes rows at the end of the file in a single write.
func (t *Table) Append(rows ...Row) error {
	return t.withLock(func() error {
		return t.appendLocked(rows)
	})
}

// AppendFunc calls fn with the current contents and appends whatever it
// returns, all under one lock. It returns the number of rows appended.
func (t *Table) AppendFunc(fn func(existing []Row) ([]Row, error)) (int, error) {
	var n int
	err := t.withLock(func() error {
		existing, _, err := t.read()
		if err != nil {
			return err
		}
		add, err := fn(existing)
		if err != nil {
			return err
		}
		n = len(add)
		return t.appendLocked(add)
	})
	return n, err
}

// Rewrite replaces the file contents with the rows returned by fn. The new
// file is written to a temporary name and renamed over the old one.
func (t *Table) Rewrite(fn func(existing []Row) ([]Row, error)) error {
	return t.withLock(func() error {
		existing, _, err := t.read()
		if err != nil {
			return err
		}
		rows, err := fn(existing)
		if err != nil {
			return err
		}
		return t.replace(rows)
	})
}

func (t *Table) appendLocked(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	if err := t.ensureHeader(); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range rows {
		if err := w.Write(t.record(r)); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(t.path), err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", filepath.Base(t.path), err)
	}
	return f.Close()
}

// ensureHeader creates the file with a header, or upgrades the header of a
// file written with fewer columns so appended rows line up.
func (t *Table) ensureHeader() error {
	rows, header, err := t.read()
	if err != nil {
		return err
	}
	if header == nil {
		return t.replace(nil)
	}
	for _, c := range t.columns {
		if !slices.Contains(header, c) {
			return t.replace(rows)
		}
	}
	if !slices.Equal(header, t.columns) {
		// Same columns in a different order; rewrite so appends match.
		return t.replace(rows)
	}
	return t.terminateLastLine()
}

// terminateLastLine adds the line break missing from files saved by editors
// that drop the final newline, so the next append starts a new record.
func (t *Table) terminateLastLine() error {
	f, err := os.OpenFile(t.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(t.path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(t.path), err)
	}
	if info.Size() == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(t.path), err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.WriteAt([]byte("\n"), info.Size()); err != nil {
		return fmt.Errorf("terminate last line of %s: %w", filepath.Base(t.path), err)
	}
	return nil
}

func (t *Table) read() ([]Row, []string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open %s: %w", filepath.Base(t.path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", filepath.Base(t.path), err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", filepath.Base(t.path), err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

func (t *Table) replace(rows []Row) error {
	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(t.columns); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write(t.record(r)); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(t.path), err)
	}
	return nil
}

func (t *Table) record(r Row) []string {
	rec := make([]string, len(t.columns))
	for i, c := range t.columns {
		rec[i] = r[c]
	}
	return rec
}
