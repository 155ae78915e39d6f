// Package bootstrap produces the config disk image a vJunos instance
// consumes at first boot. It merges the baseline template with an optional
// user-provided startup configuration and hands the result to an image
// builder. The artifact is built once and never touched again.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lub-dub/vrnetlab/internal/logging"
)

// HostnamePlaceholder is the literal token in the baseline template that is
// replaced with the instance hostname.
const HostnamePlaceholder = "{HOSTNAME}"

// Paths fixes the filesystem locations the bootstrapper works with.
type Paths struct {
	// Template is the baseline configuration shipped with the image.
	Template string
	// UserConfig is the well-known location of an optional user startup config.
	UserConfig string
	// Merged is where the final artifact is written.
	Merged string
	// Image is where the config disk image is written.
	Image string
}

// DefaultPaths returns the conventional locations relative to root.
func DefaultPaths(root string) Paths {
	return Paths{
		Template:   filepath.Join(root, "init.conf"),
		UserConfig: filepath.Join(root, "config", "startup-config.cfg"),
		Merged:     filepath.Join(root, "juniper.conf"),
		Image:      filepath.Join(root, "config.img"),
	}
}

// Bootstrapper builds the startup configuration artifact and the config
// disk image derived from it.
type Bootstrapper struct {
	Paths   Paths
	Builder ImageBuilder
	Logger  *slog.Logger

	// MergeUserConfig controls whether a user startup config found at the
	// well-known path is appended to the baseline. Platforms that replay
	// user configuration over the CLI after login leave this false.
	MergeUserConfig bool
}

func (b *Bootstrapper) logger() *slog.Logger {
	return logging.Ensure(b.Logger)
}

// Run substitutes hostname into the baseline template, merges the user
// startup config if present and requested, and builds the config disk
// image. It returns the image path.
func (b *Bootstrapper) Run(hostname string) (string, error) {
	if b.Builder == nil {
		return "", errors.New("bootstrap: image builder is not configured")
	}
	if strings.TrimSpace(hostname) == "" {
		return "", errors.New("bootstrap: hostname is required")
	}

	logger := b.logger().With("hostname", hostname)

	baseline, err := os.ReadFile(b.Paths.Template)
	if err != nil {
		return "", &TemplateReadError{Path: b.Paths.Template, Err: err}
	}
	artifact := strings.ReplaceAll(string(baseline), HostnamePlaceholder, hostname)

	userConfig, found, err := b.readUserConfig()
	if err != nil {
		return "", err
	}
	if found {
		logging.Trace(logger, "user startup config found", "path", b.Paths.UserConfig)
		artifact += userConfig
	} else {
		logging.Trace(logger, "no user startup config", "path", b.Paths.UserConfig)
	}

	if err := os.WriteFile(b.Paths.Merged, []byte(artifact), 0o644); err != nil {
		return "", &ConfigMergeError{Path: b.Paths.Merged, Err: err}
	}
	logger.Info("startup config written", "path", b.Paths.Merged, "bytes", len(artifact))

	if err := b.Builder.Build(b.Paths.Merged, b.Paths.Image); err != nil {
		return "", &ConfigDiskBuildError{ImagePath: b.Paths.Image, Err: err}
	}
	logger.Info("config disk built", "path", b.Paths.Image)

	return b.Paths.Image, nil
}

func (b *Bootstrapper) readUserConfig() (string, bool, error) {
	if !b.MergeUserConfig {
		return "", false, nil
	}
	data, err := os.ReadFile(b.Paths.UserConfig)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &ConfigMergeError{Path: b.Paths.UserConfig, Err: err}
	}
	return string(data), true, nil
}

// ReadUserConfigLines returns the user startup config as trimmed lines, or
// nil when no file exists at path. Platforms that cannot consume the config
// disk payload replay these lines over the CLI after login.
func ReadUserConfigLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user startup config %s: %w", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
