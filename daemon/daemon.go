// Package daemon keeps a process alive until it is told to stop. A Daemon
// runs on the caller's goroutine, watching OS signals and an optional
// watchdog function for background activities.
package daemon

import (
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// exitCodeAbort mirrors a process dying on SIGABRT (128+6).
const exitCodeAbort = 134

// SignalState tracks received OS signals. The first SIGINT or SIGTERM
// requests a graceful stop; a second SIGINT aborts the process immediately
// for operators stuck behind a hanging shutdown.
type SignalState struct {
	sigint  atomic.Int64
	sigterm atomic.Int64
	sigusr1 atomic.Int64
	sigusr2 atomic.Int64

	logger    *slog.Logger
	ch        chan os.Signal
	done      chan struct{}
	installed atomic.Bool

	// exit is replaced in tests.
	exit func(code int)
}

// NewSignalState creates an idle signal state; Install starts it.
func NewSignalState(logger *slog.Logger) *SignalState {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalState{
		logger: logger.With("component", "daemon"),
		exit:   os.Exit,
	}
}

// Install registers the signal handlers and starts the bookkeeping
// goroutine. Uninstall releases them. A state may be shared between the
// process entry point and a Daemon, so both pairs are idempotent: only the
// first Install registers, only the matching Uninstall releases.
func (s *SignalState) Install() {
	if !s.installed.CompareAndSwap(false, true) {
		return
	}
	s.ch = make(chan os.Signal, 8)
	s.done = make(chan struct{})
	signal.Notify(s.ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.watch()
}

// Uninstall stops signal delivery.
func (s *SignalState) Uninstall() {
	if !s.installed.CompareAndSwap(true, false) {
		return
	}
	signal.Stop(s.ch)
	close(s.ch)
	<-s.done
}

func (s *SignalState) watch() {
	defer close(s.done)

	for sig := range s.ch {
		s.handle(sig)
	}
}

func (s *SignalState) handle(sig os.Signal) {
	switch sig {
	case syscall.SIGINT:
		if s.sigint.Add(1) > 1 {
			s.logger.Error("Second interrupt, aborting")
			s.exit(exitCodeAbort)
		}
	case syscall.SIGTERM:
		s.sigterm.Add(1)
	case syscall.SIGUSR1:
		s.sigusr1.Add(1)
	case syscall.SIGUSR2:
		s.sigusr2.Add(1)
	}
}

// StopRequested reports whether a stop signal has arrived.
func (s *SignalState) StopRequested() bool {
	return s.sigint.Load() > 0 || s.sigterm.Load() > 0
}

// Interrupts returns the number of SIGINTs received.
func (s *SignalState) Interrupts() int64 {
	return s.sigint.Load()
}

// User1 returns the number of SIGUSR1s received.
func (s *SignalState) User1() int64 {
	return s.sigusr1.Load()
}

// User2 returns the number of SIGUSR2s received.
func (s *SignalState) User2() int64 {
	return s.sigusr2.Load()
}

// WatchDog is called periodically by a running daemon. Returning false or an
// error stops the daemon.
type WatchDog func() (bool, error)

// Daemon keeps the process alive until a signal or the watchdog requests a
// stop. Start blocks; it is meant for the main goroutine.
type Daemon struct {
	logger  *slog.Logger
	signals *SignalState

	watchdog WatchDog
	alive    atomic.Bool
	stopCh   chan struct{}
	stopped  atomic.Bool
}

// New creates a daemon around the given signal state. A nil state gets a
// fresh one.
func New(logger *slog.Logger, signals *SignalState) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	if signals == nil {
		signals = NewSignalState(logger)
	}
	return &Daemon{
		logger:  logger.With("component", "daemon"),
		signals: signals,
		stopCh:  make(chan struct{}),
	}
}

// Attach sets the watchdog. Must be called before Start.
func (d *Daemon) Attach(watchdog WatchDog) {
	d.watchdog = watchdog
}

// Signals returns the daemon's signal state.
func (d *Daemon) Signals() *SignalState {
	return d.signals
}

// Start installs signal handling and blocks, ticking the watchdog at the
// given interval, until a signal, the watchdog, or Stop requests a stop.
func (d *Daemon) Start(interval time.Duration) {
	d.logger.Info("Starting daemon", "interval", interval)
	d.alive.Store(true)

	d.signals.Install()
	defer d.signals.Uninstall()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for d.alive.Load() {
		if d.signals.StopRequested() {
			d.logger.Info("Stop signal received")
			d.alive.Store(false)
			break
		}

		if d.watchdog != nil {
			ok, err := d.watchdog()
			if err != nil {
				d.logger.Error("Watchdog failed", "error", err)
				d.alive.Store(false)
				break
			}
			if !ok {
				d.logger.Info("Watchdog requested stop")
				d.alive.Store(false)
				break
			}
		}

		select {
		case <-ticker.C:
		case <-d.stopCh:
			d.alive.Store(false)
		}
	}

	d.logger.Info("Daemon stopped")
}

// Stop makes Start return. Safe to call from any goroutine and more than
// once.
func (d *Daemon) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		close(d.stopCh)
	}
}
