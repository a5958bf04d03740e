package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/cdpbridge/internal/logging"
)

// BackupSuffix names the previous version of a config file.
const BackupSuffix = ".bak"

// BackupInfo describes the backup kept next to a config file.
type BackupInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// WriteAtomic streams write's output into a temp file next to path, syncs it
// and renames it over path. On any error path is left as it was and the temp
// file is removed. Output is buffered, so trace dumps of any size go straight
// to disk.
func WriteAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	// CreateTemp uses 0600; widen or narrow to what the caller asked for
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	bw := bufio.NewWriterSize(tmp, 256<<10)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// WriteFile writes data to path with WriteAtomic.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// syncDir makes the rename durable. Not every filesystem supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		L_trace("config: directory sync failed", "dir", dir, "error", err)
	}
}

// saveWithBackup keeps the current file as its backup, then replaces it.
func saveWithBackup(path string, data []byte) error {
	if err := keepBackup(path); err != nil {
		L_warn("config: backup failed, saving anyway", "path", path, "error", err)
	}
	if err := WriteFile(path, data, 0600); err != nil {
		return err
	}
	L_debug("config: saved", "path", path)
	return nil
}

// keepBackup copies path over its backup. A missing path is not an error.
func keepBackup(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return WriteFile(path+BackupSuffix, data, 0600)
}

// Backup describes the backup of path, or returns nil if there is none.
func Backup(path string) (*BackupInfo, error) {
	bak := path + BackupSuffix
	info, err := os.Stat(bak)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &BackupInfo{Path: bak, ModTime: info.ModTime(), Size: info.Size()}, nil
}

// RestoreBackup swaps path and its backup, so a second restore undoes the
// first. A backup Load would reject is refused and path is left alone.
func RestoreBackup(path string) error {
	bak := path + BackupSuffix
	data, err := os.ReadFile(bak)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no backup of %s", path)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	restored := Default()
	if err := decode(path, data, restored); err != nil {
		return fmt.Errorf("backup is not a valid config: %w", err)
	}
	if err := restored.Validate(); err != nil {
		return fmt.Errorf("backup is not a valid config: %w", err)
	}

	if err := keepBackup(path); err != nil {
		return fmt.Errorf("keep current config: %w", err)
	}
	if err := WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	L_info("config: restored backup", "from", bak, "to", path)
	return nil
}
