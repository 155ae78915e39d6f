package bootstrap

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
)

// configDiskVolumeLabel is the label the guest expects on the config disk.
const configDiskVolumeLabel = "vmm-data"

// ImageBuilder renders a merged configuration file into a mountable disk
// image at imagePath.
type ImageBuilder interface {
	Build(configPath, imagePath string) error
}

// ISOBuilder builds the config disk as an ISO 9660 image with the merged
// configuration staged at /config/juniper.conf, matching the layout the
// guest's first-boot loader scans for.
type ISOBuilder struct{}

func (ISOBuilder) Build(configPath, imagePath string) error {
	source, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("open config artifact %s: %w", configPath, err)
	}
	defer source.Close()

	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("create iso writer: %w", err)
	}
	defer writer.Cleanup()

	if err := writer.AddFile(source, "config/juniper.conf"); err != nil {
		return fmt.Errorf("stage config artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(imagePath), 0o755); err != nil {
		return fmt.Errorf("ensure image directory: %w", err)
	}

	out, err := os.OpenFile(imagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}

	if err := writer.WriteTo(out, configDiskVolumeLabel); err != nil {
		out.Close()
		_ = os.Remove(imagePath)
		return fmt.Errorf("write iso: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close image file: %w", err)
	}
	return nil
}

// ScriptBuilder delegates config disk creation to an external tool invoked
// as `<script> <configPath> <imagePath>`. A non-zero exit means the tool
// rejected the configuration.
type ScriptBuilder struct {
	Script string
}

func (b ScriptBuilder) Build(configPath, imagePath string) error {
	script := b.Script
	if script == "" {
		script = "./make-config.sh"
	}

	cmd := exec.Command(script, configPath, imagePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w (output: %s)", script, err, strings.TrimSpace(string(output)))
	}
	return nil
}
