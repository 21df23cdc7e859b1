package app

import (
	"context"
	"errors"
	"testing"

	"github.com/koopa0/da/internal/config"
	"github.com/koopa0/da/internal/log"
)

// Close must tolerate a partially built App: Setup calls it on any
// initialization failure, at which point later fields are still nil.
func TestClosePartialApp(t *testing.T) {
	a := &App{Logger: log.NewNop()}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on empty app error = %v", err)
	}

	// Idempotent: a second Close must not panic or double-release.
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCloseRunsDBCleanupOnce(t *testing.T) {
	calls := 0
	a := &App{Logger: log.NewNop(), dbCleanup: func() { calls++ }}

	_ = a.Close()
	_ = a.Close()

	if calls != 1 {
		t.Errorf("dbCleanup ran %d times, want 1", calls)
	}
}

func TestSetupRejectsNilConfig(t *testing.T) {
	if _, err := Setup(context.Background(), nil, log.NewNop()); err == nil {
		t.Error("Setup() with nil config succeeded, want error")
	} else if !errors.Is(err, config.ErrConfigNil) {
		t.Errorf("Setup() error = %v, want ErrConfigNil", err)
	}
}
