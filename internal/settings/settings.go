// Package settings loads daemon configuration from an optional YAML file.
// Command-line flags override anything set here.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "2s" or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings are the recognized configuration knobs for one instance.
type Settings struct {
	Platform string `yaml:"platform"`
	Hostname string `yaml:"hostname"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ConnectionMode is an opaque datapath selector handed through to the
	// VM process construction; the orchestrator does not interpret it.
	ConnectionMode string `yaml:"connection-mode"`

	// ConnectURI selects the libvirt driver when non-empty; otherwise the
	// VM runs as a directly managed qemu process.
	ConnectURI string `yaml:"connect-uri"`

	// Root is the directory holding the disk image, baseline template and
	// produced artifacts.
	Root string `yaml:"root"`

	ConsolePort int      `yaml:"console-port"`
	SpinLimit   int      `yaml:"spin-limit"`
	ReadTimeout Duration `yaml:"read-timeout"`

	// ConfigBuilder selects how the config disk is produced: "iso" builds
	// it natively, "script" delegates to an external tool.
	ConfigBuilder string `yaml:"config-builder"`
	BuilderScript string `yaml:"builder-script"`
}

// Default returns the settings used when no file and no flags are given.
func Default() Settings {
	return Settings{
		Platform:       "vjunos-router",
		Hostname:       "vr-vjunos",
		Username:       "admin",
		Password:       "VR-netlab9",
		ConnectionMode: "tc",
		Root:           "/",
		ConfigBuilder:  "iso",
	}
}

// Load reads settings from path on top of the defaults. An empty path
// returns the defaults; a missing file at an explicit path is an error.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, fmt.Errorf("settings file %s does not exist", path)
		}
		return s, fmt.Errorf("read settings file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return s, nil
}
