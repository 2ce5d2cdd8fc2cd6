// Package videodev locates V4L2 capture devices through sysfs.
//
// Device nodes under /dev are not stable across USB reconnects, so the
// streamer supervisor re-resolves the node from the USB interface system
// name (the "bind", e.g. "1-1.4:1.0") before every process launch.
package videodev

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeviceInfo describes a discovered video capture device.
// It is a transient result, recomputed on every lookup.
type DeviceInfo struct {
	// Path is the device node, e.g. "/dev/video0".
	Path string `json:"path"`

	// Bind is the system name of the parent USB interface,
	// e.g. "1-1.4:1.0". Empty when the device has no USB parent.
	Bind string `json:"bind,omitempty"`

	// Driver is the kernel driver bound to the USB interface.
	Driver string `json:"driver,omitempty"`
}

// Locator enumerates video4linux devices through the sysfs class tree.
//
// SysRoot and DevRoot exist so tests can point the locator at a
// synthetic tree; production code uses New.
type Locator struct {
	SysRoot string
	DevRoot string
}

// New returns a Locator for the real system trees.
func New() *Locator {
	return &Locator{
		SysRoot: "/sys",
		DevRoot: "/dev",
	}
}

// LocateByBind returns the device node of the video device whose parent
// USB interface system name equals bind, or "" if no attached device
// matches. A missing device is not an error; the caller decides whether
// that is fatal.
func (l *Locator) LocateByBind(ctx context.Context, bind string) (string, error) {
	devices, err := l.Devices(ctx)
	if err != nil {
		return "", err
	}
	for _, dev := range devices {
		if dev.Bind == bind {
			return dev.Path, nil
		}
	}
	return "", nil
}

// Devices lists the video4linux capture devices currently attached,
// with their USB interface binds where one exists. Devices without a
// USB parent are included with an empty Bind. Nodes whose index
// attribute is non-zero are metadata or auxiliary siblings that cannot
// stream video and are skipped.
func (l *Locator) Devices(ctx context.Context) ([]DeviceInfo, error) {
	classDir := filepath.Join(l.SysRoot, "class", "video4linux")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", classDir, err)
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}

		info := DeviceInfo{
			Path: filepath.Join(l.DevRoot, entry.Name()),
		}

		// Class entries are symlinks into the device tree; resolve and
		// walk up to the nearest USB interface ancestor.
		real, err := filepath.EvalSymlinks(filepath.Join(classDir, entry.Name()))
		if err == nil {
			if !isCaptureNode(real) {
				continue
			}
			if iface := l.findUSBInterface(real); iface != "" {
				info.Bind = filepath.Base(iface)
				info.Driver = readDriver(iface)
			}
		}

		devices = append(devices, info)
	}
	return devices, nil
}

// ExploreDevice returns discovery details for a single device node,
// e.g. "/dev/video0". Returns an error if the node is not a known
// video4linux device.
func (l *Locator) ExploreDevice(ctx context.Context, path string) (*DeviceInfo, error) {
	devices, err := l.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Path == path {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no video4linux device at %s", path)
}

// findUSBInterface walks up from a sysfs device directory and returns
// the nearest ancestor that is a USB interface, or "" if none exists
// (platform or virtual devices have no USB parent).
func (l *Locator) findUSBInterface(dir string) string {
	root := filepath.Clean(l.SysRoot)
	for {
		dir = filepath.Dir(dir)
		if dir == root || dir == "/" || dir == "." {
			return ""
		}
		if isUSBInterface(dir) {
			return dir
		}
	}
}

// isUSBInterface reports whether the sysfs directory describes a USB
// interface, judged by its uevent DEVTYPE.
func isUSBInterface(dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "uevent"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "DEVTYPE=usb_interface" {
			return true
		}
	}
	return false
}

// isCaptureNode reports whether the sysfs device directory describes
// the capture node of its device, judged by the index attribute.
// A UVC camera exposes a metadata sibling (index 1) next to its
// capture node (index 0); only index 0 can stream video. A missing
// index attribute is treated as a capture node.
func isCaptureNode(dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "index"))
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(raw)) == "0"
}

// readDriver returns the driver bound to a sysfs device directory,
// or "" if none is bound.
func readDriver(dir string) string {
	target, err := os.Readlink(filepath.Join(dir, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}
