//go:build !unix && !windows

package filesystem

import "os"

// lockFile is a no-op on platforms without file locking, access is only
// serialized within the process.
func lockFile(*os.File, bool) error {
	return nil
}
