package boot

import (
	"fmt"
	"log/slog"

	"github.com/lub-dub/vrnetlab/internal/console"
	"github.com/lub-dub/vrnetlab/internal/logging"
)

// LoginError reports a login step whose expected prompt never appeared.
// It costs the current tick only; restart policy stays with the spin
// budget.
type LoginError struct {
	Step string
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login step %q: %v", e.Step, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// Login performs first-login automation on a console that has shown the
// boot marker: flush stale prompt, answer the login and password prompts,
// and optionally replay user configuration through the CLI.
type Login struct {
	Username string
	Password string

	// PostLoginPrompt, when set, gates the final carriage return on the
	// operational-mode prompt.
	PostLoginPrompt string

	// ConfigLines are user startup-config lines replayed in configure
	// mode after login, for platforms that ignore the config disk user
	// payload.
	ConfigLines []string

	Logger *slog.Logger
}

// Run executes the login sequence. Each gated write is bounded by the
// transport's prompt timeout.
func (l Login) Run(t console.Transport) error {
	logger := logging.Ensure(l.Logger)

	// Flush whatever half-rendered prompt is sitting on the line.
	if err := t.WaitWrite("", ""); err != nil {
		return &LoginError{Step: "flush", Err: err}
	}
	if err := t.WaitWrite(l.Username, "login:"); err != nil {
		return &LoginError{Step: "username", Err: err}
	}
	if err := t.WaitWrite(l.Password, "Password:"); err != nil {
		return &LoginError{Step: "password", Err: err}
	}
	if err := t.WaitWrite("", l.PostLoginPrompt); err != nil {
		return &LoginError{Step: "post-login", Err: err}
	}

	if len(l.ConfigLines) > 0 {
		if err := l.replayConfig(t, logger); err != nil {
			return err
		}
	}
	return nil
}

// replayConfig pushes user startup-config lines through the CLI: enter the
// CLI, enter configure mode, apply each line, commit, leave.
func (l Login) replayConfig(t console.Transport, logger *slog.Logger) error {
	logger.Info("replaying user startup config", "lines", len(l.ConfigLines))

	if err := t.WaitWrite("cli", "#"); err != nil {
		return &LoginError{Step: "cli", Err: err}
	}
	if err := t.WaitWrite("configure", ">"); err != nil {
		return &LoginError{Step: "configure", Err: err}
	}
	for _, line := range l.ConfigLines {
		if err := t.WaitWrite(line, "#"); err != nil {
			return &LoginError{Step: "config-line", Err: err}
		}
	}
	if err := t.WaitWrite("commit", "#"); err != nil {
		return &LoginError{Step: "commit", Err: err}
	}
	if err := t.WaitWrite("exit", "#"); err != nil {
		return &LoginError{Step: "exit", Err: err}
	}

	logger.Info("user startup config committed")
	return nil
}
