package vm

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
	libvirt "libvirt.org/go/libvirt"

	"github.com/lub-dub/vrnetlab/internal/logging"
	"github.com/lub-dub/vrnetlab/internal/platform"
)

//go:embed domain.xml
var domainTemplate string

type domainTemplateData struct {
	Name         string
	UUID         string
	RAMMB        int
	VCPUs        int
	Machine      string
	DiskImage    string
	ConfigImage  string
	ConfigTarget string
	ConfigBus    string
	ConsolePort  int
}

// LibvirtSupervisor runs the instance as a transient libvirt domain with
// the serial console bound to a local telnet socket. Selected when a
// connection URI is configured.
type LibvirtSupervisor struct {
	ConnectionURI string
	Name          string
	Profile       platform.Profile
	DiskImage     string
	ConfigImage   string
	ConsolePort   int
	Logger        *slog.Logger

	mu      sync.Mutex
	started bool
}

func (s *LibvirtSupervisor) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

func (s *LibvirtSupervisor) consolePort() int {
	if s.ConsolePort > 0 {
		return s.ConsolePort
	}
	return DefaultConsolePort
}

// ConsoleAddr implements Supervisor.
func (s *LibvirtSupervisor) ConsoleAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.consolePort())
}

// Start implements Supervisor.
func (s *LibvirtSupervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("domain already running")
	}
	if s.Name == "" {
		return errors.New("domain name is not configured")
	}
	if s.DiskImage == "" || s.ConfigImage == "" {
		return errors.New("disk and config images are required")
	}

	domainXML, err := renderDomainXML(domainTemplate, s.templateData())
	if err != nil {
		return err
	}

	conn, err := libvirt.NewConnect(s.ConnectionURI)
	if err != nil {
		return fmt.Errorf("open libvirt connection %s: %w", s.ConnectionURI, err)
	}
	defer conn.Close()

	logger := s.logger().With("domain", s.Name, "connect_uri", s.ConnectionURI)
	logger.Info("creating transient domain", "console", s.ConsoleAddr())
	logging.Trace(logger, "domain definition", "xml", string(domainXML))

	domain, err := conn.DomainCreateXML(string(domainXML), 0)
	if err != nil {
		return fmt.Errorf("create domain %s: %w", s.Name, err)
	}
	_ = domain.Free()

	s.started = true
	return nil
}

// Stop implements Supervisor.
func (s *LibvirtSupervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	conn, err := libvirt.NewConnect(s.ConnectionURI)
	if err != nil {
		return fmt.Errorf("open libvirt connection %s: %w", s.ConnectionURI, err)
	}
	defer conn.Close()

	domain, err := conn.LookupDomainByName(s.Name)
	if err != nil {
		// Domain already gone: crashed or was destroyed externally.
		s.started = false
		return nil
	}
	defer domain.Free()

	s.logger().Info("destroying domain", "domain", s.Name)
	if err := domain.Destroy(); err != nil {
		return fmt.Errorf("destroy domain %s: %w", s.Name, err)
	}

	s.started = false
	return nil
}

// Alive implements Supervisor.
func (s *LibvirtSupervisor) Alive() bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return false
	}

	conn, err := libvirt.NewConnect(s.ConnectionURI)
	if err != nil {
		return false
	}
	defer conn.Close()

	domain, err := conn.LookupDomainByName(s.Name)
	if err != nil {
		return false
	}
	defer domain.Free()

	active, err := domain.IsActive()
	return err == nil && active
}

func (s *LibvirtSupervisor) templateData() domainTemplateData {
	configTarget := "sda"
	configBus := "usb"
	if s.Profile.ConfigDiskBus == platform.ConfigDiskVirtio {
		configTarget = "vdb"
		configBus = "virtio"
	}

	return domainTemplateData{
		Name:         s.Name,
		UUID:         uuid.New().String(),
		RAMMB:        s.Profile.RAMMB,
		VCPUs:        vcpuCount(s.Profile.SMP),
		Machine:      machineName(s.Profile.Machine),
		DiskImage:    s.DiskImage,
		ConfigImage:  s.ConfigImage,
		ConfigTarget: configTarget,
		ConfigBus:    configBus,
		ConsolePort:  s.consolePort(),
	}
}

func renderDomainXML(templateSrc string, data domainTemplateData) ([]byte, error) {
	if templateSrc == "" {
		return nil, errors.New("domain template source is empty")
	}

	tmpl, err := template.New("domain").Parse(templateSrc)
	if err != nil {
		return nil, fmt.Errorf("parse domain template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute domain template: %w", err)
	}
	return buf.Bytes(), nil
}

// vcpuCount extracts the CPU count from a qemu -smp value such as
// "4,sockets=1,cores=4,threads=1".
func vcpuCount(smp string) int {
	head, _, _ := strings.Cut(smp, ",")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// machineName strips qemu machine options, which libvirt does not accept
// in the machine attribute.
func machineName(machine string) string {
	head, _, _ := strings.Cut(machine, ",")
	return head
}
