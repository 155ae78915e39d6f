package boot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lub-dub/vrnetlab/internal/bootstrap"
	"github.com/lub-dub/vrnetlab/internal/console"
)

type fakeSupervisor struct {
	starts int
	stops  int
	alive  bool
}

func (s *fakeSupervisor) Start() error {
	s.starts++
	s.alive = true
	return nil
}

func (s *fakeSupervisor) Stop() error {
	s.stops++
	s.alive = false
	return nil
}

func (s *fakeSupervisor) Alive() bool { return s.alive }

func (s *fakeSupervisor) ConsoleAddr() string { return "127.0.0.1:5000" }

// dialScript hands out one scripted console per VM launch.
type dialScript struct {
	consoles []*scriptedConsole
	dials    int
}

func (d *dialScript) dial(addr string) (console.Transport, error) {
	if d.dials >= len(d.consoles) {
		d.consoles = append(d.consoles, &scriptedConsole{})
	}
	c := d.consoles[d.dials]
	d.dials++
	return c, nil
}

func newTestController(t *testing.T, sup *fakeSupervisor, dials *dialScript, spinLimit int) *Controller {
	t.Helper()
	c, err := New(ControllerConfig{
		Hostname:    "vr-edge1",
		Supervisor:  sup,
		BootMarker:  "FreeBSD/amd64",
		Login:       Login{Username: "admin", Password: "admin@123"},
		SpinLimit:   spinLimit,
		DialConsole: dials.dial,
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestControllerRestartsOnTimeout(t *testing.T) {
	sup := &fakeSupervisor{}
	dials := &dialScript{}
	c := newTestController(t, sup, dials, 2)

	// Silent console: every tick is idle until the spin budget runs out
	// and the controller relaunches the VM.
	for i := 0; i < 10; i++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if sup.starts == 2 {
			break
		}
	}

	if sup.starts != 2 {
		t.Fatalf("VM started %d times, want 2 (initial + restart)", sup.starts)
	}
	if sup.stops != 1 {
		t.Errorf("VM stopped %d times, want 1", sup.stops)
	}
	if dials.consoles[0].closes != 1 {
		t.Errorf("first session console closed %d times, want 1", dials.consoles[0].closes)
	}
	if c.session.spins != 0 {
		t.Errorf("fresh session spins = %d, want 0", c.session.spins)
	}
	if c.IsRunning() {
		t.Error("controller must not report running after a restart")
	}
}

func TestControllerReachesRunning(t *testing.T) {
	sup := &fakeSupervisor{}
	dials := &dialScript{consoles: []*scriptedConsole{{
		reads: []scriptedRead{
			{raw: []byte("booting...\n")},
			{match: true, raw: []byte("FreeBSD/amd64\n")},
		},
	}}}
	c := newTestController(t, sup, dials, 300)

	for i := 0; i < 3 && !c.IsRunning(); i++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if !c.IsRunning() {
		t.Fatal("controller never reached running")
	}
	if sup.starts != 1 {
		t.Errorf("VM started %d times, want 1", sup.starts)
	}

	// Running is sticky: further ticks change nothing.
	if err := c.Tick(); err != nil {
		t.Fatalf("tick after running: %v", err)
	}
	if !c.IsRunning() {
		t.Error("running state reverted")
	}
}

func TestControllerRunStopsOnCancel(t *testing.T) {
	sup := &fakeSupervisor{}
	dials := &dialScript{consoles: []*scriptedConsole{{
		reads: []scriptedRead{{match: true, raw: []byte("FreeBSD/amd64\n")}},
	}}}
	c := newTestController(t, sup, dials, 300)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for !c.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("controller never reached running")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if sup.alive {
		t.Error("VM still alive after shutdown")
	}
}

func TestControllerFatalBootstrapError(t *testing.T) {
	sup := &fakeSupervisor{}
	root := t.TempDir()

	_, err := New(ControllerConfig{
		Hostname:   "vr-edge1",
		Supervisor: sup,
		BootMarker: "FreeBSD/amd64",
		Bootstrapper: &bootstrap.Bootstrapper{
			// No template file exists under root.
			Paths:   bootstrap.DefaultPaths(root),
			Builder: bootstrap.ISOBuilder{},
		},
		Logger: testLogger(),
	})

	var templateErr *bootstrap.TemplateReadError
	if !errors.As(err, &templateErr) {
		t.Fatalf("expected TemplateReadError, got %v", err)
	}
	if sup.starts != 0 {
		t.Error("VM must not start when bootstrap fails")
	}
}
