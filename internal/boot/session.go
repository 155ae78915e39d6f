// Package boot drives a vJunos instance from VM start to a usable state.
// The only signal available is the textual serial console, so readiness is
// detected by classifying console output tick by tick: a platform boot
// marker arms login automation, and a bounded spin counter catches guests
// that go silent without ever getting there.
package boot

import (
	"log/slog"
	"time"

	"github.com/lub-dub/vrnetlab/internal/console"
	"github.com/lub-dub/vrnetlab/internal/logging"
)

// Status classifies the outcome of one monitor tick.
type Status int

const (
	// StatusBooting means no decision yet; keep ticking.
	StatusBooting Status = iota
	// StatusRunning means login completed and the instance accepts
	// management traffic.
	StatusRunning
	// StatusTimedOut means the guest produced no output for too many
	// consecutive ticks and the VM should be restarted.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusTimedOut:
		return "timed-out"
	default:
		return "booting"
	}
}

const (
	// DefaultSpinLimit is how many consecutive idle ticks are tolerated
	// before the session is declared stuck.
	DefaultSpinLimit = 300
	// DefaultReadTimeout bounds the console read performed by each tick.
	DefaultReadTimeout = time.Second
)

// Session is one attempt to bring the instance from VM start to running.
// It owns its console transport and closes it exactly once, either when
// login completes or when the session is torn down.
type Session struct {
	console     console.Transport
	marker      []byte
	login       Login
	spinLimit   int
	readTimeout time.Duration
	logger      *slog.Logger

	spins        int
	startTime    time.Time
	markerSeen   bool
	running      bool
	bootDuration time.Duration
}

// SessionConfig carries the knobs for a Session. Zero values fall back to
// the defaults above.
type SessionConfig struct {
	Console     console.Transport
	BootMarker  string
	Login       Login
	SpinLimit   int
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// NewSession starts a fresh boot attempt. The session takes ownership of
// the console transport.
func NewSession(cfg SessionConfig) *Session {
	spinLimit := cfg.SpinLimit
	if spinLimit <= 0 {
		spinLimit = DefaultSpinLimit
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return &Session{
		console:     cfg.Console,
		marker:      []byte(cfg.BootMarker),
		login:       cfg.Login,
		spinLimit:   spinLimit,
		readTimeout: readTimeout,
		logger:      logging.Ensure(cfg.Logger),
		startTime:   time.Now(),
	}
}

// Tick performs one bounded console read and classifies boot progress.
// Callers invoke it on their own schedule; a tick never blocks longer than
// the read timeout plus, on the tick that sees the boot marker, the login
// sequence's prompt waits.
func (s *Session) Tick() Status {
	if s.running {
		return StatusRunning
	}
	if s.spins > s.spinLimit {
		s.logger.Warn("no console progress, giving up on this boot attempt",
			"spins", s.spins,
			"spin_limit", s.spinLimit,
		)
		return StatusTimedOut
	}

	// Once the boot marker has been seen it stays seen: the guest prints
	// it once per boot and matching consumes it from the stream, so later
	// ticks go straight back to prompt detection instead of waiting for a
	// banner that will never recur.
	if s.markerSeen {
		return s.attemptLogin(false)
	}

	idx, raw, err := s.console.Expect([][]byte{s.marker}, s.readTimeout)
	if err != nil {
		// Console failures surface as idle ticks; the spin budget decides
		// when to restart.
		s.logger.Warn("console read failed", "error", err)
		s.spins++
		return StatusBooting
	}

	if idx == 0 {
		s.markerSeen = true
		s.logger.Info("VM started", "marker", string(s.marker))
		return s.attemptLogin(true)
	}

	if len(raw) > 0 {
		// The guest is talking, just not done booting yet.
		logging.Trace(s.logger, "OUTPUT", "raw", string(raw))
		s.spins = 0
	} else {
		s.spins++
	}
	return StatusBooting
}

// attemptLogin runs the login sequence and settles the session state. A
// missed prompt costs the tick only; marker detection and prompt detection
// are independently retryable. The tick that matched the marker clearly
// saw output, so it resets the spin counter; retry ticks charge the spin
// budget so a guest that never produces a usable prompt still hits the
// restart policy.
func (s *Session) attemptLogin(markerTick bool) Status {
	if err := s.login.Run(s.console); err != nil {
		s.logger.Warn("login attempt failed", "error", err)
		if markerTick {
			s.spins = 0
		} else {
			s.spins++
		}
		return StatusBooting
	}
	s.logger.Info("Login completed")

	s.running = true
	s.bootDuration = time.Since(s.startTime)
	if err := s.console.Close(); err != nil {
		s.logger.Warn("closing console", "error", err)
	}
	s.logger.Info("Startup complete", "elapsed", s.bootDuration)
	return StatusRunning
}

// Running reports whether login completed for this session.
func (s *Session) Running() bool {
	return s.running
}

// BootDuration returns how long the session took to reach running, or zero
// while still booting.
func (s *Session) BootDuration() time.Duration {
	return s.bootDuration
}

// Close releases the console transport. Safe on sessions that already
// closed it after login.
func (s *Session) Close() error {
	if s.console == nil {
		return nil
	}
	return s.console.Close()
}
