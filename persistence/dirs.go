package persistence

import (
	"github.com/apparentlymart/go-userdirs/userdirs"
	"github.com/pkg/errors"
)

// Names used to build the platform application-data directory:
//
//	XDG (Unix): lowercase of appName, "vault"
//	Windows:    vendor\appName
//	macOS:      bundleID
const (
	appName  = "Vault"
	vendor   = "jrsteele09"
	bundleID = "io.github.jrsteele09.vault"
)

// DefaultDir returns the platform application-data directory used when no
// explicit directory is configured.
func DefaultDir() (string, error) {
	dirs := userdirs.ForApp(appName, vendor, bundleID)
	dir := dirs.DataHome()
	if dir == "" {
		return "", errors.New("persistence.DefaultDir: no data directory for this platform")
	}
	return dir, nil
}
