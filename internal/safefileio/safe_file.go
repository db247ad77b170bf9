// Package safefileio provides file I/O for persisted analysis state with
// protection against symlink substitution and torn writes.
package safefileio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// MaxFileSize is the maximum allowed file size for SafeReadFile (128 MB)
const MaxFileSize = 128 * 1024 * 1024

// tempPattern names the sibling file AtomicWriteFile writes before renaming.
const tempPattern = ".tmp-*"

// Replaceable for tests.
var (
	rename   = os.Rename
	syncFile = func(f *os.File) error { return f.Sync() }
)

// SafeReadFile reads a regular file without following a symlink at the final
// path component or in any parent directory.
// It enforces a maximum file size of MaxFileSize.
func SafeReadFile(filePath string) ([]byte, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	// #nosec G304 - absPath is cleaned above and O_NOFOLLOW rejects a final symlink
	file, err := os.OpenFile(absPath, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if isNoFollowError(err) {
			return nil, ErrIsSymlink
		}
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close file", slog.String("path", absPath), slog.Any("error", closeErr))
		}
	}()

	// Verify the directory components after opening to narrow the TOCTOU window
	if err := verifyPathComponents(absPath); err != nil {
		return nil, err
	}

	info, err := validateFile(file, absPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	content, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(content)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return content, nil
}

// AtomicWriteFile replaces filePath with content. The data is written to a
// temporary sibling, synced, and renamed over the target, so a failure at any
// point leaves the previous contents intact.
func AtomicWriteFile(filePath string, content []byte, perm os.FileMode) (err error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}
	dir := filepath.Dir(absPath)

	if err := verifyPathComponents(absPath); err != nil {
		return err
	}
	if info, err := os.Lstat(absPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return ErrIsSymlink
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, absPath)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", absPath, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(absPath)+tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err == nil {
			return
		}
		_ = tmp.Close()
		if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			slog.Warn("failed to remove temporary file", slog.String("path", tmpPath), slog.Any("error", removeErr))
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("failed to write to %s: %w", tmpPath, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpPath, err)
	}
	if err = syncFile(tmp); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err = rename(tmpPath, absPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", absPath, err)
	}
	return nil
}

// CreateExclusive creates a new file for writing. It fails if filePath
// already exists or if any directory component is a symlink.
func CreateExclusive(filePath string, perm os.FileMode) (*os.File, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}
	if err := verifyPathComponents(absPath); err != nil {
		return nil, err
	}

	// #nosec G304 - absPath is cleaned above and O_EXCL|O_NOFOLLOW refuse existing entries
	file, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL|syscall.O_NOFOLLOW, perm)
	if err != nil {
		if isNoFollowError(err) {
			return nil, ErrIsSymlink
		}
		return nil, err
	}
	return file, nil
}

// verifyPathComponents checks that no directory component of absPath is a
// symlink.
func verifyPathComponents(absPath string) error {
	current := filepath.Dir(absPath)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}

		fi, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, current)
		}

		current = parent
	}
}

// validateFile checks that the open file is a regular file.
func validateFile(file *os.File, filePath string) (os.FileInfo, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, filePath)
	}
	return fileInfo, nil
}

// isNoFollowError reports whether err came from opening a symlink with
// O_NOFOLLOW. BSDs report EMLINK where Linux reports ELOOP.
func isNoFollowError(err error) bool {
	var e *os.PathError
	if !errors.As(err, &e) {
		return false
	}
	return errors.Is(e.Err, syscall.ELOOP) || errors.Is(e.Err, syscall.EMLINK)
}
