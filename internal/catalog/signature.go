package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// VersionMarker is touched after every write so other processes sharing the
// directory see a new signature even when mtimes are coarse.
const VersionMarker = ".catalog-version"

// candidate reports whether a directory entry name is loaded as an
// instruction file.
func candidate(name string) bool {
	if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".json")
}

// Signature fingerprints the candidate files of dirs without reading them.
// Missing or unreadable directories contribute a placeholder line.
func Signature(dirs []Dir) (string, error) {
	var lines []string
	for _, d := range dirs {
		entries, err := os.ReadDir(d.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				lines = append(lines, d.Path+"|<missing>")
				continue
			}
			// the loader reports it; keep fingerprinting the rest
			lines = append(lines, d.Path+"|<unreadable>")
			continue
		}
		for _, e := range entries {
			if !candidate(e.Name()) {
				continue
			}
			var info fs.FileInfo
			switch {
			case e.Type().IsRegular():
				info, err = e.Info()
			case e.Type()&fs.ModeSymlink != 0:
				// links count by their target
				info, err = os.Stat(filepath.Join(d.Path, e.Name()))
			default:
				continue
			}
			if err != nil {
				// removed between ReadDir and Info, or a dangling link
				continue
			}
			lines = append(lines, fmt.Sprintf("%s|%s|%d|%d", d.Path, e.Name(), info.Size(), info.ModTime().UnixNano()))
		}
		if marker, err := os.ReadFile(filepath.Join(d.Path, VersionMarker)); err == nil {
			lines = append(lines, d.Path+"|"+VersionMarker+"|"+strings.TrimSpace(string(marker)))
		}
	}
	slices.Sort(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:]), nil
}
