package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DataPaths holds the locations inside a detected data directory
type DataPaths struct {
	BasePath   string // data directory holding storage/
	StorageDir string // storage/ with the session, message and part collections
}

// DetectDataDir returns the conversation data directory for this machine:
// $XDG_DATA_HOME/opencode, or ~/.local/share/opencode
func DetectDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "opencode"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin", "linux":
		return filepath.Join(home, ".local", "share", "opencode"), nil
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "opencode"), nil
		}
		return filepath.Join(home, ".local", "share", "opencode"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// NewDataPaths describes the layout below a data directory
func NewDataPaths(base string) DataPaths {
	return DataPaths{
		BasePath:   base,
		StorageDir: filepath.Join(base, "storage"),
	}
}

// Exists reports whether the storage directory is present
func (dp DataPaths) Exists() bool {
	info, err := os.Stat(dp.StorageDir)
	return err == nil && info.IsDir()
}

// CollectionDirs returns the three collection directories
func (dp DataPaths) CollectionDirs() []string {
	return []string{
		filepath.Join(dp.StorageDir, string(KindSession)),
		filepath.Join(dp.StorageDir, string(KindMessage)),
		filepath.Join(dp.StorageDir, string(KindPart)),
	}
}

// CountDocuments walks the storage directory and counts the JSON documents
// of each collection
func (dp DataPaths) CountDocuments() (map[DocumentKind]int, error) {
	counts := map[DocumentKind]int{KindSession: 0, KindMessage: 0, KindPart: 0}
	for _, kind := range []DocumentKind{KindSession, KindMessage, KindPart} {
		root := filepath.Join(dp.StorageDir, string(kind))
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == ".json" && d.Name()[0] != '.' {
				counts[kind]++
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", root, err)
		}
	}
	return counts, nil
}
