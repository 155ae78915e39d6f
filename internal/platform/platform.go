// Package platform describes the supported vJunos variants: the virtual
// hardware each one expects, how the config disk is attached, and the
// console patterns that drive boot detection and login.
package platform

import "fmt"

// ConfigDiskBus selects how the config disk is attached to the guest.
type ConfigDiskBus string

const (
	// ConfigDiskUSB attaches the config disk as USB storage behind an
	// xhci controller.
	ConfigDiskUSB ConfigDiskBus = "usb"
	// ConfigDiskVirtio attaches the config disk as a virtio-blk device.
	ConfigDiskVirtio ConfigDiskBus = "virtio"
)

// Profile is the immutable description of one platform variant.
type Profile struct {
	Name string

	// BootMarker is the console substring that indicates the guest OS
	// reached its known boot stage. The login prompt itself can get lost
	// in boot logs, so detection keys on the platform banner instead.
	BootMarker string

	// LoginUser is the guest's built-in account written at the login
	// prompt.
	LoginUser string

	// PostLoginPrompt, when non-empty, gates the final carriage return of
	// the login sequence on the operational-mode prompt appearing.
	PostLoginPrompt string

	// ReplayUserConfig marks platforms that cannot consume the user
	// startup config from the config disk and instead replay it over the
	// CLI once login completes.
	ReplayUserConfig bool

	RAMMB   int
	SMP     string
	CPU     string
	Machine string
	SMBIOS  []string

	ConfigDiskBus ConfigDiskBus
	NICModel      string
	NICCount      int

	ExtraQemuArgs []string
}

// Router is the vJunos-router variant.
var Router = Profile{
	Name:          "vjunos-router",
	BootMarker:    "FreeBSD/amd64",
	LoginUser:     "admin",
	RAMMB:         5120,
	SMP:           "4,sockets=1,cores=4,threads=1",
	CPU:           "host,vmx=on",
	SMBIOS:        []string{"type=1,product=VM-VMX,family=lab"},
	ConfigDiskBus: ConfigDiskUSB,
	NICModel:      "virtio-net-pci",
	NICCount:      11,
	ExtraQemuArgs: []string{"-overcommit", "mem-lock=off"},
}

// Switch is the vJunos-switch variant. It runs on an older machine type
// with a pinned CPU model and loads user configuration through the CLI
// after login rather than from the config disk.
var Switch = Profile{
	Name:             "vjunos-switch",
	BootMarker:       "FreeBSD/amd64",
	LoginUser:        "admin",
	PostLoginPrompt:  "admin@vJunos-switch>",
	ReplayUserConfig: true,
	RAMMB:            5120,
	SMP:              "4,sockets=1,cores=4,threads=1",
	CPU:              "IvyBridge,vme=on,ss=on,vmx=on,f16c=on,rdrand=on,hypervisor=on,arat=on,tsc-adjust=on,umip=on,arch-capabilities=on,pdpe1gb=on,skip-l1dfl-vmentry=on,pschange-mc-no=on,bmi1=off,avx2=off,bmi2=off,erms=off,invpcid=off,rdseed=off,adx=off,smap=off,xsaveopt=off,abm=off,svm=off",
	Machine:          "pc-i440fx-focal,usb=off,dump-guest-core=off,accel=kvm",
	SMBIOS:           []string{"type=1,product=VM-VEX"},
	ConfigDiskBus:    ConfigDiskVirtio,
	NICModel:         "virtio-net-pci",
	NICCount:         11,
}

// ByName resolves a profile from its CLI name.
func ByName(name string) (Profile, error) {
	switch name {
	case Router.Name, "router":
		return Router, nil
	case Switch.Name, "switch":
		return Switch, nil
	default:
		return Profile{}, fmt.Errorf("unknown platform %q", name)
	}
}
