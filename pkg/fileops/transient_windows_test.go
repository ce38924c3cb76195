//go:build windows

package fileops

import (
	"os"
	"testing"

	"golang.org/x/sys/windows"
)

func TestIsTransient_WindowsLocks(t *testing.T) {
	for _, err := range []error{
		windows.ERROR_SHARING_VIOLATION,
		&os.LinkError{Op: "rename", Old: "a", New: "b", Err: windows.ERROR_LOCK_VIOLATION},
	} {
		if !IsTransient(err) {
			t.Errorf("expected %v to be transient", err)
		}
	}
	if IsTransient(windows.ERROR_FILE_NOT_FOUND) {
		t.Error("missing file is not transient")
	}
}
