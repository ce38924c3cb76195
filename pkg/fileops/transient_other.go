//go:build !windows

package fileops

func platformTransient(error) bool {
	return false
}
