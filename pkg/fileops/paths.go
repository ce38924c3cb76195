package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ValidatePathSecurity rejects empty paths, traversal sequences and absolute
// paths pointing into reserved system locations. It does not touch the
// filesystem beyond symlink resolution for the reserved check.
func ValidatePathSecurity(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}

	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed")
		}
	}

	if filepath.IsAbs(path) && IsReservedDirectory(filepath.Clean(path)) {
		return fmt.Errorf("path points into a reserved directory")
	}

	return nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// ValidateFileInDirectory checks that filePath exists, is a regular file and
// resolves (through symlinks) to a location inside baseDir.
func ValidateFileInDirectory(filePath, baseDir string) error {
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("cannot resolve file path: %w", err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("cannot resolve base directory: %w", err)
	}

	if !within(absBase, absFile) {
		return fmt.Errorf("file is not within base directory")
	}

	info, err := os.Lstat(absFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", filepath.Base(filePath))
		}
		return fmt.Errorf("cannot access file: %w", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if err := ValidateSymlinkSecurity(absFile, []string{absBase}); err != nil {
			return err
		}
		info, err = os.Stat(absFile)
		if err != nil {
			return fmt.Errorf("cannot access symlink target: %w", err)
		}
	}

	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	return nil
}

// within reports whether target is base or a descendant of it.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// IsSymlink reports whether path is a symbolic link without following it.
func IsSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// ValidateSymlinkSecurity resolves linkPath and requires the final target to
// sit under one of allowedBasePaths and outside reserved directories.
func ValidateSymlinkSecurity(linkPath string, allowedBasePaths []string) error {
	resolved, err := ResolveSymlink(linkPath)
	if err != nil {
		return err
	}
	if IsReservedDirectory(resolved) {
		return fmt.Errorf("symlink resolves to reserved directory")
	}
	for _, base := range allowedBasePaths {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		if real, err := filepath.EvalSymlinks(absBase); err == nil {
			absBase = real
		}
		if within(absBase, resolved) {
			return nil
		}
	}
	return fmt.Errorf("symlink resolves outside allowed directories")
}

// ExpandPath expands a leading "~/" to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// IsReservedDirectory reports whether path is a system location the server
// must never write to. System trees (/etc, /usr/bin, ~/.ssh...) are reserved
// with everything below them; shared roots such as /root or /var/lib are
// reserved only as themselves, so per-user and per-service data directories
// under them stay usable. Temp directories are exempt.
func IsReservedDirectory(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}
	absPath = filepath.Clean(absPath)

	if absPath == string(filepath.Separator) || strings.EqualFold(absPath, `C:\`) {
		return true
	}
	if isTempPath(absPath) {
		return false
	}

	lower := strings.ToLower(absPath)
	trees, roots := reservedDirectories()
	for _, reserved := range trees {
		r := strings.ToLower(filepath.Clean(reserved))
		if lower == r || strings.HasPrefix(lower, r+string(os.PathSeparator)) {
			return true
		}
	}
	for _, reserved := range roots {
		if lower == strings.ToLower(filepath.Clean(reserved)) {
			return true
		}
	}
	return false
}

// reservedDirectories returns the reserved trees and the directories that
// are reserved only as themselves.
func reservedDirectories() (trees, roots []string) {
	switch runtime.GOOS {
	case "windows":
		trees = []string{`C:\Windows`, `C:\Program Files`, `C:\Program Files (x86)`, `C:\ProgramData\Microsoft`}
		roots = []string{`C:\Users`, `C:\ProgramData`}
	case "darwin":
		trees = []string{"/System", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/etc", "/private/etc", "/var/log", "/var/db", "/Library/System"}
		roots = []string{"/Users", "/var", "/var/root", "/Library"}
	default:
		trees = []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/lib", "/etc", "/boot", "/dev", "/proc", "/sys", "/var/log"}
		roots = []string{"/home", "/root", "/usr", "/var", "/var/lib", "/var/cache"}
	}
	if home, err := os.UserHomeDir(); err == nil {
		trees = append(trees, filepath.Join(home, ".ssh"), filepath.Join(home, ".gnupg"))
		roots = append(roots, home)
	}
	return trees, roots
}

func isTempPath(path string) bool {
	tmp := filepath.Clean(os.TempDir())
	if resolved, err := filepath.EvalSymlinks(tmp); err == nil {
		tmp = resolved
	}
	if within(tmp, path) {
		return true
	}
	if runtime.GOOS == "darwin" && strings.Contains(path, "/var/folders/") {
		return true
	}
	return false
}

// ValidateStoragePath validates a directory the server will write into. The
// path must be absolute (or ~/ relative), free of traversal and outside
// reserved locations. It need not exist yet.
func ValidateStoragePath(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return fmt.Errorf("storage directory cannot be empty")
	}
	if err := ValidatePathSecurity(trimmed); err != nil {
		return err
	}

	expanded := ExpandPath(trimmed)
	if !filepath.IsAbs(expanded) {
		return fmt.Errorf("path must be absolute or relative to home directory (~)")
	}
	if IsReservedDirectory(expanded) {
		return fmt.Errorf("cannot use system or reserved directories")
	}

	// missing levels are created later; the nearest existing one must be a
	// directory
	for dir := filepath.Dir(expanded); ; dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access %s: %w", dir, err)
		}
		if next := filepath.Dir(dir); next == dir {
			return fmt.Errorf("no existing ancestor for %s", expanded)
		}
	}
}

// SanitizeFilename reduces name to a single safe path element.
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}
	clean := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	clean = strings.TrimSpace(strings.ReplaceAll(clean, "..", ""))
	if clean == "" || clean == "." || clean == "/" {
		return "", fmt.Errorf("invalid filename after sanitization: %q", name)
	}
	return clean, nil
}

// SanitizeIdentifier keeps letters, digits, '-', '_' and '.', turning runs of
// whitespace into a single '-'. maxLength of 0 disables truncation.
func SanitizeIdentifier(identifier string, maxLength int) (string, error) {
	if strings.TrimSpace(identifier) == "" {
		return "", fmt.Errorf("identifier cannot be empty")
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range identifier {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '/' || r == '\\':
			pendingDash = true
		}
	}

	result := b.String()
	if maxLength > 0 && len(result) > maxLength {
		result = result[:maxLength]
	}
	result = strings.Trim(result, "-_.")
	if result == "" {
		return "", fmt.Errorf("identifier becomes empty after sanitization")
	}
	return result, nil
}

// ValidateFileSizeLimit fails when filePath is larger than maxSize bytes.
func ValidateFileSizeLimit(filePath string, maxSize int64) error {
	if maxSize <= 0 {
		return fmt.Errorf("invalid size limit: %d", maxSize)
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", filepath.Base(filePath))
		}
		return fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", filePath)
	}
	if info.Size() > maxSize {
		return fmt.Errorf("file size %d bytes exceeds limit %d bytes", info.Size(), maxSize)
	}
	return nil
}

// ResolveSymlink returns the final target of linkPath.
func ResolveSymlink(linkPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(linkPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve symlink: %w", err)
	}
	return resolved, nil
}

var suspiciousPatterns = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"onload=",
	"onerror=",
	"onclick=",
}

// ValidateContentSecurity rejects short metadata strings (titles, frontmatter
// fields) carrying control characters or markup injection. Do not run it on
// instruction bodies, which legitimately quote such snippets.
func ValidateContentSecurity(content string) error {
	for _, r := range content {
		if r == 0 {
			return fmt.Errorf("content contains null bytes")
		}
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("content contains control characters")
		}
	}

	lower := strings.ToLower(content)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("content contains potentially malicious pattern: %s", pattern)
		}
	}
	return nil
}
