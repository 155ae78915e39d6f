package boot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lub-dub/vrnetlab/internal/bootstrap"
	"github.com/lub-dub/vrnetlab/internal/console"
	"github.com/lub-dub/vrnetlab/internal/logging"
	"github.com/lub-dub/vrnetlab/internal/vm"
)

// DefaultDialTimeout bounds the wait for the VM's console socket to come
// up after a process start.
const DefaultDialTimeout = 30 * time.Second

// ControllerConfig assembles the collaborators and knobs for a Controller.
type ControllerConfig struct {
	Hostname   string
	Supervisor vm.Supervisor

	// Bootstrapper, when set, is run once during New to produce the
	// config disk image the VM consumes. Its errors are fatal; no
	// instance can run without its bootstrap configuration.
	Bootstrapper *bootstrap.Bootstrapper

	BootMarker string
	Login      Login

	SpinLimit   int
	ReadTimeout time.Duration
	DialTimeout time.Duration

	// DialConsole opens the console transport for a freshly started VM.
	// Defaults to a telnet dial against the supervisor's console address.
	DialConsole func(addr string) (console.Transport, error)

	Logger *slog.Logger
}

// Controller owns the restart-on-timeout policy around boot sessions: it
// starts the VM, ticks the current session, and on timeout relaunches the
// VM process under a brand-new session.
type Controller struct {
	cfg    ControllerConfig
	logger *slog.Logger

	session *Session

	mu      sync.Mutex
	running bool
}

// New builds the config disk artifact and returns a controller ready to
// run. The VM process is not started until the first tick.
func New(cfg ControllerConfig) (*Controller, error) {
	if cfg.Supervisor == nil {
		return nil, errors.New("boot: supervisor is required")
	}
	if cfg.BootMarker == "" {
		return nil, errors.New("boot: boot marker is required")
	}

	logger := logging.Ensure(cfg.Logger)

	if cfg.Bootstrapper != nil {
		if _, err := cfg.Bootstrapper.Run(cfg.Hostname); err != nil {
			return nil, err
		}
	}

	if cfg.DialConsole == nil {
		dialTimeout := cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = DefaultDialTimeout
		}
		cfg.DialConsole = func(addr string) (console.Transport, error) {
			return console.Dial(addr, dialTimeout)
		}
	}

	return &Controller{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Tick advances the boot process by one step. The first tick starts the
// VM; later ticks poll the console. On a session timeout the VM process is
// stopped, started again, and a fresh session takes over.
func (c *Controller) Tick() error {
	if c.IsRunning() {
		return nil
	}

	if c.session == nil {
		if err := c.launch(); err != nil {
			return err
		}
	}

	switch c.session.Tick() {
	case StatusRunning:
		c.setRunning(true)
	case StatusTimedOut:
		c.logger.Warn("boot attempt timed out, restarting VM")
		if err := c.restart(); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks until the instance is running, then keeps watch over the VM
// process. It returns when ctx is cancelled, releasing the console.
func (c *Controller) Run(ctx context.Context) error {
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.IsRunning() {
			// Nothing to poll anymore; the console read no longer paces
			// the loop.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.Tick(); err != nil {
			return err
		}
	}
}

// IsRunning reports whether the current session completed login.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
}

// launch starts the VM process and opens a fresh session against its
// console.
func (c *Controller) launch() error {
	if err := c.cfg.Supervisor.Start(); err != nil {
		return err
	}

	transport, err := c.cfg.DialConsole(c.cfg.Supervisor.ConsoleAddr())
	if err != nil {
		// The VM process came up but never opened its console socket.
		// That is an environment fault, not a slow boot: the VM is torn
		// down and the error propagates as fatal.
		c.logger.Warn("console dial failed, stopping VM", "error", err)
		if stopErr := c.cfg.Supervisor.Stop(); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}

	c.session = NewSession(SessionConfig{
		Console:     transport,
		BootMarker:  c.cfg.BootMarker,
		Login:       c.cfg.Login,
		SpinLimit:   c.cfg.SpinLimit,
		ReadTimeout: c.cfg.ReadTimeout,
		Logger:      c.logger,
	})
	c.logger.Info("boot session started", "console", c.cfg.Supervisor.ConsoleAddr())
	return nil
}

// restart discards the timed-out session and relaunches the VM process.
func (c *Controller) restart() error {
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.logger.Warn("closing console", "error", err)
		}
		c.session = nil
	}
	if err := c.cfg.Supervisor.Stop(); err != nil {
		return err
	}
	return c.launch()
}

func (c *Controller) teardown() {
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.logger.Warn("closing console", "error", err)
		}
	}
	if err := c.cfg.Supervisor.Stop(); err != nil {
		c.logger.Warn("stopping VM", "error", err)
	}
}
