//go:build linux

package lock

import (
	"fmt"
	"syscall"
)

// statfs f_type magics, see statfs(2).
const (
	nfsMagic  = 0x6969
	cifsMagic = 0xFF534D42
	smbMagic  = 0x517B
	smb2Magic = 0xFE534D42
)

func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	switch uint64(st.Type) {
	case nfsMagic:
		return "nfs", nil
	case cifsMagic:
		return "cifs", nil
	case smbMagic:
		return "smbfs", nil
	case smb2Magic:
		return "smb2", nil
	default:
		return fmt.Sprintf("0x%x", uint64(st.Type)), nil
	}
}
