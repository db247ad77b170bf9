package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/isseis/go-obfuhook/internal/safefileio"
)

const (
	// filePermission is the permission mode for patch record files.
	filePermission = 0o600

	// dirPermission is the permission mode for the patch directory.
	// 0o750 allows owner full access, group read/execute, others no access.
	dirPermission = 0o750
)

// FilePersister stores one JSON record file per view under a directory.
type FilePersister struct {
	dir string
}

// NewFilePersister creates a FilePersister rooted at dir.
// If dir does not exist, it will be created with mode 0o750.
//
// TOCTOU Note: a symlink could be planted between os.Lstat() and
// os.MkdirAll(). Record files themselves are read and written through
// safefileio, which refuses symlinked paths.
func NewFilePersister(dir string) (*FilePersister, error) {
	info, err := os.Lstat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access patch directory: %w", err)
		}
		if err := os.MkdirAll(dir, dirPermission); err != nil {
			return nil, fmt.Errorf("failed to create patch directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrPatchDirNotDirectory, dir)
	}

	return &FilePersister{dir: dir}, nil
}

// Dir returns the directory holding the record files.
func (f *FilePersister) Dir() string {
	return f.dir
}

// LoadPatches reads the record file for view.
// Returns ErrRecordNotFound if the file does not exist.
func (f *FilePersister) LoadPatches(view ViewID) ([]Record, error) {
	path := f.RecordPath(view)

	data, err := safefileio.SafeReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read patch record file: %w", err)
	}

	var record ViewRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &RecordCorruptedError{Path: path, Cause: err}
	}

	if record.SchemaVersion != CurrentSchemaVersion {
		return nil, &SchemaVersionMismatchError{
			Expected: CurrentSchemaVersion,
			Actual:   record.SchemaVersion,
		}
	}
	if record.ViewID != view {
		return nil, &RecordCorruptedError{Path: path, Cause: fmt.Errorf("record belongs to view %q", record.ViewID)}
	}

	return record.Patches, nil
}

// SavePatches atomically replaces the record file for view.
func (f *FilePersister) SavePatches(view ViewID, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	record := ViewRecord{
		SchemaVersion: CurrentSchemaVersion,
		ViewID:        view,
		UpdatedAt:     time.Now().UTC(),
		Patches:       records,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal patch record: %w", err)
	}

	if err := safefileio.AtomicWriteFile(f.RecordPath(view), data, filePermission); err != nil {
		return fmt.Errorf("failed to write patch record file: %w", err)
	}
	return nil
}

// RecordPath returns the record file path for view. Characters that are not
// safe in a file name are replaced with '_'.
func (f *FilePersister) RecordPath(view ViewID) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, string(view))
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_" + name
	}
	return filepath.Join(f.dir, name+".json")
}
