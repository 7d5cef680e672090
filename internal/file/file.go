package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(fs afero.Fs, dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := fs.MkdirAll(dirPath, appDirPerm); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals the value and atomically writes it to filename.
func WriteJSONAtomic(fs afero.Fs, filename string, v any) error {
	if filename == "" {
		return errors.New("empty filename")
	}
	var buf bytes.Buffer
	jsonEncoder := json.NewEncoder(&buf)
	jsonEncoder.SetEscapeHTML(true)
	if err := jsonEncoder.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return WriteAtomic(fs, filename, &buf)
}

// WriteAtomic writes data provided by the reader to filename through a
// temporary file in the same directory followed by a rename.
func WriteAtomic(fs afero.Fs, filename string, reader io.Reader) error {
	if filename == "" {
		return errors.New("empty filename")
	}
	dir := filepath.Dir(filename)
	if err := EnsureDir(fs, dir); err != nil {
		return err
	}
	tempFile, err := afero.TempFile(fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()
	if _, err := io.Copy(tempFile, reader); err != nil {
		_ = tempFile.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("copy to temp: %w", err)
	}
	// ensure data hits disk
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	// remove existing file to avoid permission issues on Windows
	if _, err := fs.Stat(filename); err == nil {
		_ = fs.Remove(filename)
	}
	if err := fs.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
