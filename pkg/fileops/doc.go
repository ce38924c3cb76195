// Package fileops provides the file primitives the catalog is built on:
// path validation, bounded directory scanning and atomic writes.
//
// # Atomic writes
//
// AtomicWriteFile writes to a hidden temporary file in the destination
// directory, syncs it and renames it over the target. Readers either see
// the previous content or the new content, never a torn file. When the
// rename fails with a transient error (EBUSY, EPERM, EACCES, ETXTBSY, which
// is what antivirus scanners and file indexers on Windows and macOS tend to
// cause) the write is retried with exponential backoff.
//
//	err := fileops.AtomicWriteJSON(ctx, filepath.Join(dir, "a.json"), entry, 0o644)
//
// # Path validation
//
// Validate user supplied locations before handing them to the loader:
//
//	if err := fileops.ValidateStoragePath(dir); err != nil {
//	    return fmt.Errorf("instructions dir: %w", err)
//	}
//	if err := fileops.ValidateFileInDirectory(file, dir); err != nil {
//	    return fmt.Errorf("containment: %w", err)
//	}
//
// # Directory scanning
//
// NewDirectoryScanner walks a tree through an os.Root so symlinks cannot
// escape the scan boundary.
package fileops
