// Package vm supervises the virtual-machine process backing one instance.
// The boot orchestrator only ever talks to a Supervisor; the qemu and
// libvirt drivers are interchangeable behind it.
package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supervisor controls the lifetime of the VM process for one instance.
type Supervisor interface {
	// Start launches the VM process. Calling Start on an already running
	// supervisor is an error.
	Start() error

	// Stop terminates the VM process. Stopping an already stopped
	// supervisor is a no-op.
	Stop() error

	// Alive reports whether the VM process is currently running.
	Alive() bool

	// ConsoleAddr returns the TCP address of the guest's serial console
	// server. Valid once Start has returned.
	ConsoleAddr() string
}

// FindDiskImage locates the platform qcow2 disk image in dir. Images are
// shipped as the single qcow2 file in the container root.
func FindDiskImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan %s for disk image: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".qcow2") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no qcow2 disk image found in %s", dir)
}
