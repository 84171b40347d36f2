package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// flock(2) is advisory on these and may not be honoured across hosts.
var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// checkLocalFilesystem rejects lock paths on network filesystems, where two
// daemons on different hosts could both believe they own the motors.
// An empty type from detect means the platform cannot tell; that passes.
func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	inspect, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve lock path %q: %w", path, err)
	}

	fsType, err := detect(inspect)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspect, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("lock path %q is on network filesystem %q; set service.lock_path to a local disk", path, fsType)
	}
	return nil
}

// nearestExistingPath walks up from path to the first ancestor that exists.
func nearestExistingPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := abs
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
