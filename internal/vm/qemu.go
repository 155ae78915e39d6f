package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/lub-dub/vrnetlab/internal/logging"
	"github.com/lub-dub/vrnetlab/internal/platform"
)

// DefaultConsolePort is the local telnet port the serial console is
// exposed on.
const DefaultConsolePort = 5000

// QemuSupervisor runs the instance as a directly managed qemu process with
// the serial console served over a local telnet socket.
type QemuSupervisor struct {
	Profile     platform.Profile
	DiskImage   string
	ConfigImage string
	ConsolePort int
	Logger      *slog.Logger

	// ConnMode is the datapath connection mode. It is carried for the
	// external datapath wrapper and not interpreted here.
	ConnMode string

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

func (s *QemuSupervisor) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

func (s *QemuSupervisor) consolePort() int {
	if s.ConsolePort > 0 {
		return s.ConsolePort
	}
	return DefaultConsolePort
}

// ConsoleAddr implements Supervisor.
func (s *QemuSupervisor) ConsoleAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.consolePort())
}

// Args returns the qemu command line for the configured profile.
func (s *QemuSupervisor) Args() []string {
	p := s.Profile

	args := []string{
		"-display", "none",
		"-no-user-config", "-nodefaults",
		"-boot", "strict=on",
		"-enable-kvm",
		"-m", fmt.Sprintf("%d", p.RAMMB),
		"-smp", p.SMP,
		"-cpu", p.CPU,
		"-monitor", "none",
		"-serial", fmt.Sprintf("telnet:%s,server,nowait", s.ConsoleAddr()),
		"-uuid", uuid.New().String(),
		"-drive", fmt.Sprintf("if=virtio,format=qcow2,file=%s", s.DiskImage),
	}
	if p.Machine != "" {
		args = append(args, "-machine", p.Machine)
	}
	for _, smbios := range p.SMBIOS {
		args = append(args, "-smbios", smbios)
	}

	switch p.ConfigDiskBus {
	case platform.ConfigDiskVirtio:
		args = append(args,
			"-drive", fmt.Sprintf("if=none,id=config_disk,file=%s,format=raw", s.ConfigImage),
			"-device", "virtio-blk-pci,drive=config_disk",
		)
	default:
		// xhci is the most virtualisation-friendly USB controller.
		args = append(args,
			"-device", "qemu-xhci,id=usb,bus=pci.0,addr=0x1.0x2",
			"-drive", fmt.Sprintf("file=%s,format=raw,if=none,id=config_disk", s.ConfigImage),
			"-device", "usb-storage,drive=config_disk,id=usb-disk0,removable=off,write-cache=on",
		)
	}

	args = append(args, p.ExtraQemuArgs...)
	return args
}

// Start implements Supervisor.
func (s *QemuSupervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("qemu process already running")
	}
	if s.DiskImage == "" {
		return errors.New("disk image is not configured")
	}
	if s.ConfigImage == "" {
		return errors.New("config disk image is not configured")
	}

	args := s.Args()
	cmd := exec.Command("qemu-system-x86_64", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logger := s.logger().With("platform", s.Profile.Name)
	logger.Info("starting qemu",
		"console", s.ConsoleAddr(),
		"disk", s.DiskImage,
		"conn_mode", s.ConnMode,
	)
	logging.Trace(logger, "qemu command line", "args", args)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start qemu: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			logger.Warn("qemu exited", "error", err)
		} else {
			logger.Info("qemu exited")
		}
	}()

	s.cmd = cmd
	s.exited = exited
	return nil
}

// Stop implements Supervisor. The whole process group is killed so device
// helper processes die with qemu.
func (s *QemuSupervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}

	pid := s.cmd.Process.Pid
	s.logger().Info("stopping qemu", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill qemu process group %d: %w", pid, err)
	}
	<-s.exited

	s.cmd = nil
	s.exited = nil
	return nil
}

// Alive implements Supervisor.
func (s *QemuSupervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}
