package daemon

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalState_Counts(t *testing.T) {
	s := NewSignalState(nil)

	s.handle(syscall.SIGINT)
	s.handle(syscall.SIGTERM)
	s.handle(syscall.SIGUSR1)
	s.handle(syscall.SIGUSR1)
	s.handle(syscall.SIGUSR2)

	assert.Equal(t, int64(1), s.Interrupts())
	assert.Equal(t, int64(2), s.User1())
	assert.Equal(t, int64(1), s.User2())
	assert.True(t, s.StopRequested())
}

func TestSignalState_SecondInterruptAborts(t *testing.T) {
	s := NewSignalState(nil)

	var exitCode atomic.Int64
	exitCode.Store(-1)
	s.exit = func(code int) { exitCode.Store(int64(code)) }

	s.handle(syscall.SIGINT)
	assert.Equal(t, int64(-1), exitCode.Load(), "first interrupt is graceful")

	s.handle(syscall.SIGINT)
	assert.Equal(t, int64(exitCodeAbort), exitCode.Load())
}

func TestSignalState_NoStopBeforeSignals(t *testing.T) {
	s := NewSignalState(nil)
	assert.False(t, s.StopRequested())
}

func TestSignalState_SharedWithDaemon(t *testing.T) {
	s := NewSignalState(nil)

	var exitCode atomic.Int64
	exitCode.Store(-1)
	s.exit = func(code int) { exitCode.Store(int64(code)) }

	// the entry point installs the state, then the daemon installs it again
	s.Install()
	d := New(nil, s)

	done := make(chan struct{})
	go func() {
		d.Start(time.Millisecond)
		close(done)
	}()

	s.ch <- syscall.SIGINT

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on interrupt")
	}

	assert.Equal(t, int64(1), s.Interrupts(), "one interrupt counts once")
	assert.Equal(t, int64(-1), exitCode.Load(), "first interrupt stays graceful")

	// daemon teardown already uninstalled; these must be no-ops
	s.Uninstall()
	s.Uninstall()
}

func TestDaemon_WatchdogRequestsStop(t *testing.T) {
	d := New(nil, nil)

	ticks := 0
	d.Attach(func() (bool, error) {
		ticks++
		return ticks < 3, nil
	})

	done := make(chan struct{})
	go func() {
		d.Start(time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on watchdog request")
	}
	assert.Equal(t, 3, ticks)
}

func TestDaemon_WatchdogError(t *testing.T) {
	d := New(nil, nil)
	d.Attach(func() (bool, error) {
		return true, fmt.Errorf("background task broke")
	})

	done := make(chan struct{})
	go func() {
		d.Start(time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on watchdog error")
	}
}

func TestDaemon_Stop(t *testing.T) {
	d := New(nil, nil)

	done := make(chan struct{})
	go func() {
		d.Start(10 * time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	d.Stop()
	d.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_StopsOnSignal(t *testing.T) {
	d := New(nil, nil)
	d.Signals().sigterm.Add(1)

	done := make(chan struct{})
	go func() {
		d.Start(time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on pending signal")
	}
	require.True(t, d.Signals().StopRequested())
}
