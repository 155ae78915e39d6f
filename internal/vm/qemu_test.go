package vm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lub-dub/vrnetlab/internal/platform"
)

func argString(t *testing.T, s *QemuSupervisor) string {
	t.Helper()
	return strings.Join(s.Args(), " ")
}

func TestRouterArgs(t *testing.T) {
	s := &QemuSupervisor{
		Profile:     platform.Router,
		DiskImage:   "/vjunos.qcow2",
		ConfigImage: "/config.img",
	}
	args := argString(t, s)

	for _, want := range []string{
		"-m 5120",
		"-cpu host,vmx=on",
		"-smp 4,sockets=1,cores=4,threads=1",
		"-serial telnet:127.0.0.1:5000,server,nowait",
		"-smbios type=1,product=VM-VMX,family=lab",
		"-device qemu-xhci,id=usb,bus=pci.0,addr=0x1.0x2",
		"-device usb-storage,drive=config_disk,id=usb-disk0,removable=off,write-cache=on",
		"-overcommit mem-lock=off",
		"-boot strict=on",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("router args missing %q in %q", want, args)
		}
	}
	if strings.Contains(args, "virtio-blk-pci,drive=config_disk") {
		t.Error("router profile must not attach the config disk over virtio")
	}
	if !strings.Contains(args, "-uuid ") {
		t.Error("router args missing generated uuid")
	}
}

func TestSwitchArgs(t *testing.T) {
	s := &QemuSupervisor{
		Profile:     platform.Switch,
		DiskImage:   "/vjunos.qcow2",
		ConfigImage: "/config.img",
		ConsolePort: 5123,
	}
	args := argString(t, s)

	for _, want := range []string{
		"-machine pc-i440fx-focal,usb=off,dump-guest-core=off,accel=kvm",
		"-device virtio-blk-pci,drive=config_disk",
		"-smbios type=1,product=VM-VEX",
		"-serial telnet:127.0.0.1:5123,server,nowait",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("switch args missing %q in %q", want, args)
		}
	}
	if strings.Contains(args, "usb-storage") {
		t.Error("switch profile must not attach the config disk over usb")
	}
}

func TestFindDiskImage(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindDiskImage(dir); err == nil {
		t.Error("expected error when no qcow2 image exists")
	}

	imagePath := filepath.Join(dir, "vjunos-router-23.2R1.qcow2")
	if err := os.WriteFile(imagePath, []byte("qcow2"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), nil, 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	found, err := FindDiskImage(dir)
	if err != nil {
		t.Fatalf("FindDiskImage: %v", err)
	}
	if found != imagePath {
		t.Errorf("found %q, want %q", found, imagePath)
	}
}
