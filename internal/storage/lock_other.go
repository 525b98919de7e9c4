//go:build !unix

package storage

import "github.com/spf13/afero"

// A lock file left behind by a crash has to be removed by hand here.
func lockOS(path string) (unlocker, error) {
	return lockExclusive(afero.NewOsFs(), path)
}
