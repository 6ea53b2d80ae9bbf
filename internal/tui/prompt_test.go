package tui

import (
	"testing"

	"github.com/felixgeelhaar/taskgraph/internal/config"
)

func TestConfigAnswersRoundTrip(t *testing.T) {
	c := config.Default()
	a := NewConfigAnswers(c)
	if a.Driver != config.DriverFile {
		t.Fatalf("driver = %q, want %q", a.Driver, config.DriverFile)
	}

	a.Workers = " 8 "
	a.MaxAttempts = "5"
	a.FailFast = true
	a.Address = ":9090"
	a.LogLevel = "debug"
	if err := a.Apply(c); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.Engine.Workers != 8 || c.Engine.MaxAttempts != 5 || !c.Engine.FailFast {
		t.Errorf("engine = %+v", c.Engine)
	}
	if c.Server.Address != ":9090" || c.Logging.Level != "debug" {
		t.Errorf("server %q, level %q", c.Server.Address, c.Logging.Level)
	}
}

func TestConfigAnswersDriverClearsOtherLocation(t *testing.T) {
	c := config.Default()
	a := NewConfigAnswers(c)
	a.Driver = config.DriverPostgres
	a.DSN = "postgres://localhost/tg"
	if err := a.Apply(c); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.Store.Dir != "" || c.Store.DSN != "postgres://localhost/tg" {
		t.Errorf("store = %+v", c.Store)
	}

	a.Driver = config.DriverMemory
	if err := a.Apply(c); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if c.Store.Dir != "" || c.Store.DSN != "" {
		t.Errorf("memory store kept a location: %+v", c.Store)
	}
}

func TestConfigAnswersRejectsBadNumbers(t *testing.T) {
	for _, tc := range []struct{ workers, attempts string }{
		{"zero", "1"},
		{"0", "1"},
		{"2", "-1"},
	} {
		c := config.Default()
		a := NewConfigAnswers(c)
		a.Workers, a.MaxAttempts = tc.workers, tc.attempts
		if err := a.Apply(c); err == nil {
			t.Errorf("Apply(%q, %q) succeeded", tc.workers, tc.attempts)
		}
	}
}

func TestConfigFormBuilds(t *testing.T) {
	if ConfigForm(NewConfigAnswers(config.Default())) == nil {
		t.Fatal("nil form")
	}
}
