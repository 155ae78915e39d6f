// vjunosd boots a single vJunos instance: it builds the bootstrap config
// disk, launches the VM, and watches the serial console until the guest
// accepts management traffic, restarting the VM if boot stalls.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lub-dub/vrnetlab/internal/boot"
	"github.com/lub-dub/vrnetlab/internal/bootstrap"
	"github.com/lub-dub/vrnetlab/internal/logging"
	"github.com/lub-dub/vrnetlab/internal/platform"
	"github.com/lub-dub/vrnetlab/internal/settings"
	"github.com/lub-dub/vrnetlab/internal/vm"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	var (
		settingsPath string
		logLevel     = defaultLogLevel
		trace        bool
	)

	root := &cobra.Command{
		Use:           "vjunosd",
		Short:         "Boot a vJunos instance and report when it accepts management traffic",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.Flags()
	flags.StringVar(&settingsPath, "config", "", "Path to a YAML settings file")
	flags.String("platform", "", "Platform variant (vjunos-router, vjunos-switch)")
	flags.String("hostname", "", "Instance hostname substituted into the baseline config")
	flags.String("username", "", "Console login username")
	flags.String("password", "", "Console login password")
	flags.String("connection-mode", "", "Connection mode to use in the datapath")
	flags.String("connect", "", "Libvirt connection URI; empty runs qemu directly")
	flags.String("root", "", "Directory holding the disk image and config artifacts")
	flags.Int("console-port", 0, "Local telnet port for the serial console")
	flags.Int("spin-limit", 0, "Idle ticks tolerated before the VM is restarted")
	flags.BoolVar(&trace, "trace", false, "Enable trace level logging")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (trace, debug, info, warning, error)")

	root.PreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if trace {
			level = logging.LevelTrace
		}
		levelVar.Set(level)
		return nil
	}

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := settings.Load(settingsPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, &cfg)

		controller, err := assemble(cfg, logger)
		if err != nil {
			return err
		}
		return controller.Run(cmd.Context())
	}

	return root
}

// applyFlagOverrides copies explicitly set flags over file-provided
// settings. Flags always win.
func applyFlagOverrides(cmd *cobra.Command, cfg *settings.Settings) {
	flags := cmd.Flags()
	stringOverrides := map[string]*string{
		"platform":        &cfg.Platform,
		"hostname":        &cfg.Hostname,
		"username":        &cfg.Username,
		"password":        &cfg.Password,
		"connection-mode": &cfg.ConnectionMode,
		"connect":         &cfg.ConnectURI,
		"root":            &cfg.Root,
	}
	for name, target := range stringOverrides {
		if flags.Changed(name) {
			*target, _ = flags.GetString(name)
		}
	}
	if flags.Changed("console-port") {
		cfg.ConsolePort, _ = flags.GetInt("console-port")
	}
	if flags.Changed("spin-limit") {
		cfg.SpinLimit, _ = flags.GetInt("spin-limit")
	}
}

// assemble wires the bootstrapper, supervisor and controller for the
// requested platform.
func assemble(cfg settings.Settings, logger *slog.Logger) (*boot.Controller, error) {
	profile, err := platform.ByName(cfg.Platform)
	if err != nil {
		return nil, err
	}

	paths := bootstrap.DefaultPaths(cfg.Root)
	builder, err := selectBuilder(cfg)
	if err != nil {
		return nil, err
	}
	bootstrapper := &bootstrap.Bootstrapper{
		Paths:           paths,
		Builder:         builder,
		Logger:          logger.With("component", "bootstrap"),
		MergeUserConfig: !profile.ReplayUserConfig,
	}

	diskImage, err := vm.FindDiskImage(cfg.Root)
	if err != nil {
		return nil, err
	}

	supervisor := selectSupervisor(cfg, profile, diskImage, paths.Image, logger)

	login := boot.Login{
		Username:        cfg.Username,
		Password:        cfg.Password,
		PostLoginPrompt: profile.PostLoginPrompt,
		Logger:          logger.With("component", "login"),
	}
	if cfg.Username == "" {
		login.Username = profile.LoginUser
	}
	if profile.ReplayUserConfig {
		lines, err := bootstrap.ReadUserConfigLines(paths.UserConfig)
		if err != nil {
			return nil, err
		}
		login.ConfigLines = lines
	}

	return boot.New(boot.ControllerConfig{
		Hostname:     cfg.Hostname,
		Supervisor:   supervisor,
		Bootstrapper: bootstrapper,
		BootMarker:   profile.BootMarker,
		Login:        login,
		SpinLimit:    cfg.SpinLimit,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		Logger:       logger.With("component", "boot", "platform", profile.Name),
	})
}

func selectBuilder(cfg settings.Settings) (bootstrap.ImageBuilder, error) {
	switch cfg.ConfigBuilder {
	case "", "iso":
		return bootstrap.ISOBuilder{}, nil
	case "script":
		return bootstrap.ScriptBuilder{Script: cfg.BuilderScript}, nil
	default:
		return nil, fmt.Errorf("unknown config builder %q", cfg.ConfigBuilder)
	}
}

func selectSupervisor(cfg settings.Settings, profile platform.Profile, diskImage, configImage string, logger *slog.Logger) vm.Supervisor {
	if cfg.ConnectURI != "" {
		return &vm.LibvirtSupervisor{
			ConnectionURI: cfg.ConnectURI,
			Name:          cfg.Hostname,
			Profile:       profile,
			DiskImage:     diskImage,
			ConfigImage:   configImage,
			ConsolePort:   cfg.ConsolePort,
			Logger:        logger.With("component", "vm", "driver", "libvirt"),
		}
	}
	return &vm.QemuSupervisor{
		Profile:     profile,
		DiskImage:   diskImage,
		ConfigImage: configImage,
		ConsolePort: cfg.ConsolePort,
		ConnMode:    cfg.ConnectionMode,
		Logger:      logger.With("component", "vm", "driver", "qemu"),
	}
}
