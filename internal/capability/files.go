// ABOUTME: Filesystem operations behind list_directory, download_file and upload_file.

package capability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/2389/outpost/internal/command"
	"github.com/2389/outpost/internal/protocol"
)

// listDirectory reports every entry of path. Entries are classified by
// following symlinks; a dangling link is reported as a file with the size
// of the link itself. Any failure fails the whole listing.
func listDirectory(path string) ([]command.FileEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, protocol.OperationFailed("listing directory", err)
	}

	files := make([]command.FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(path, e.Name()))
		if err != nil {
			info, err = e.Info()
			if err != nil {
				return nil, protocol.OperationFailed("listing directory", err)
			}
		}

		entry := command.FileEntry{Name: e.Name(), Type: command.EntryFile}
		if info.IsDir() {
			entry.Type = command.EntryDirectory
		} else {
			size := info.Size()
			entry.Size = &size
		}
		files = append(files, entry)
	}
	return files, nil
}

// readFile loads a regular file whose size is at most limit bytes
// (zero means unlimited).
func readFile(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, protocol.ErrNotFound
	}
	if err != nil {
		return nil, protocol.OperationFailed("downloading file", err)
	}
	if info.IsDir() {
		return nil, protocol.ErrIsDirectory
	}
	if limit > 0 && info.Size() > limit {
		return nil, protocol.OperationFailed("downloading file",
			fmt.Errorf("file is %s, transfer limit is %s",
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(limit))))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, protocol.OperationFailed("downloading file", err)
	}
	return content, nil
}

// writeFile creates or truncates path, creating missing parent directories.
func writeFile(path string, content []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return protocol.OperationFailed("uploading file", err)
		}
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return protocol.OperationFailed("uploading file", err)
	}
	return nil
}
