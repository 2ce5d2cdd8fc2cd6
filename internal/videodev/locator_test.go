package videodev

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeSysfs builds a synthetic sysfs tree with a video4linux class
// directory whose entries link into a device tree.
type fakeSysfs struct {
	t    *testing.T
	root string
}

func newFakeSysfs(t *testing.T) *fakeSysfs {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "class", "video4linux"), 0o755); err != nil {
		t.Fatalf("creating class dir: %v", err)
	}
	return &fakeSysfs{t: t, root: root}
}

// addUSBDevice creates a video device whose ancestry contains a USB
// interface directory named bind, with the given driver bound.
func (f *fakeSysfs) addUSBDevice(name, bind, driver string) {
	f.t.Helper()

	ifaceDir := filepath.Join(f.root, "devices", "platform", "usb1", bind)
	devDir := filepath.Join(ifaceDir, "video4linux", name)
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		f.t.Fatalf("creating device dir: %v", err)
	}

	uevent := "DEVTYPE=usb_interface\nINTERFACE=14/1/0\n"
	if err := os.WriteFile(filepath.Join(ifaceDir, "uevent"), []byte(uevent), 0o644); err != nil {
		f.t.Fatalf("writing uevent: %v", err)
	}
	if err := os.WriteFile(filepath.Join(devDir, "index"), []byte("0\n"), 0o644); err != nil {
		f.t.Fatalf("writing index: %v", err)
	}

	if driver != "" {
		driverTarget := filepath.Join(f.root, "bus", "usb", "drivers", driver)
		if err := os.MkdirAll(driverTarget, 0o755); err != nil {
			f.t.Fatalf("creating driver dir: %v", err)
		}
		if err := os.Symlink(driverTarget, filepath.Join(ifaceDir, "driver")); err != nil {
			f.t.Fatalf("linking driver: %v", err)
		}
	}

	f.link(name, devDir)
}

// addMetadataNode creates a non-capture video node (index 1) under the
// same USB interface as an existing capture device.
func (f *fakeSysfs) addMetadataNode(name, bind string) {
	f.t.Helper()

	ifaceDir := filepath.Join(f.root, "devices", "platform", "usb1", bind)
	devDir := filepath.Join(ifaceDir, "video4linux", name)
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		f.t.Fatalf("creating device dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(devDir, "index"), []byte("1\n"), 0o644); err != nil {
		f.t.Fatalf("writing index: %v", err)
	}
	f.link(name, devDir)
}

// addPlatformDevice creates a video device with no USB ancestry.
func (f *fakeSysfs) addPlatformDevice(name string) {
	f.t.Helper()

	devDir := filepath.Join(f.root, "devices", "platform", "soc-video", "video4linux", name)
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		f.t.Fatalf("creating device dir: %v", err)
	}
	f.link(name, devDir)
}

func (f *fakeSysfs) link(name, devDir string) {
	f.t.Helper()
	classLink := filepath.Join(f.root, "class", "video4linux", name)
	if err := os.Symlink(devDir, classLink); err != nil {
		f.t.Fatalf("linking class entry: %v", err)
	}
}

func (f *fakeSysfs) locator() *Locator {
	return &Locator{SysRoot: f.root, DevRoot: "/dev"}
}

func TestLocateByBind_Match(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addUSBDevice("video0", "1-1.4:1.0", "uvcvideo")
	fs.addUSBDevice("video2", "1-1.2:1.0", "uvcvideo")

	path, err := fs.locator().LocateByBind(context.Background(), "1-1.2:1.0")
	if err != nil {
		t.Fatalf("LocateByBind() error = %v", err)
	}
	if path != "/dev/video2" {
		t.Errorf("path = %q, want /dev/video2", path)
	}
}

func TestLocateByBind_NotFoundIsNotError(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addUSBDevice("video0", "1-1.4:1.0", "uvcvideo")

	path, err := fs.locator().LocateByBind(context.Background(), "2-1:1.0")
	if err != nil {
		t.Fatalf("LocateByBind() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}

func TestLocateByBind_SkipsNonUSBDevices(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addPlatformDevice("video0")
	fs.addUSBDevice("video1", "1-1.4:1.0", "uvcvideo")

	path, err := fs.locator().LocateByBind(context.Background(), "1-1.4:1.0")
	if err != nil {
		t.Fatalf("LocateByBind() error = %v", err)
	}
	if path != "/dev/video1" {
		t.Errorf("path = %q, want /dev/video1", path)
	}
}

func TestDevices_MissingClassDir(t *testing.T) {
	l := &Locator{SysRoot: t.TempDir(), DevRoot: "/dev"}

	devices, err := l.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if devices != nil {
		t.Errorf("devices = %v, want nil", devices)
	}
}

func TestDevices_IncludesDriverAndBind(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addUSBDevice("video0", "1-1.4:1.0", "uvcvideo")

	devices, err := fs.locator().Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	dev := devices[0]
	if dev.Path != "/dev/video0" {
		t.Errorf("Path = %q, want /dev/video0", dev.Path)
	}
	if dev.Bind != "1-1.4:1.0" {
		t.Errorf("Bind = %q, want 1-1.4:1.0", dev.Bind)
	}
	if dev.Driver != "uvcvideo" {
		t.Errorf("Driver = %q, want uvcvideo", dev.Driver)
	}
}

func TestDevices_SkipsMetadataNodes(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addUSBDevice("video0", "1-1.4:1.0", "uvcvideo")
	fs.addMetadataNode("video1", "1-1.4:1.0")

	devices, err := fs.locator().Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	if devices[0].Path != "/dev/video0" {
		t.Errorf("Path = %q, want /dev/video0", devices[0].Path)
	}

	if _, err := fs.locator().ExploreDevice(context.Background(), "/dev/video1"); err == nil {
		t.Error("expected error for metadata node")
	}
}

func TestExploreDevice(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addUSBDevice("video0", "1-1.4:1.0", "uvcvideo")

	info, err := fs.locator().ExploreDevice(context.Background(), "/dev/video0")
	if err != nil {
		t.Fatalf("ExploreDevice() error = %v", err)
	}
	if info.Bind != "1-1.4:1.0" {
		t.Errorf("Bind = %q, want 1-1.4:1.0", info.Bind)
	}

	if _, err := fs.locator().ExploreDevice(context.Background(), "/dev/video9"); err == nil {
		t.Error("expected error for unknown device node")
	}
}

func TestLocateByBind_Cancelled(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addUSBDevice("video0", "1-1.4:1.0", "uvcvideo")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fs.locator().LocateByBind(ctx, "1-1.4:1.0")
	if err == nil {
		t.Error("expected context error after cancellation")
	}
}
