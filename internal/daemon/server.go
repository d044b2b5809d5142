// Package daemon implements the tund server: the accept loop, the
// per-client session state machine, and the per-tunnel child supervisor.
package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"

	"go.tund.dev/tund/internal/allowlist"
	"go.tund.dev/tund/internal/audit"
	"go.tund.dev/tund/internal/core"
	"go.tund.dev/tund/internal/protocol"
	"go.tund.dev/tund/internal/transport"
)

// fatalSignals mirrors the original's FATAL_SIGNALS list: any of these
// delivered to the daemon triggers an orderly shutdown. SIGKILL is
// omitted because Go (like the original's OS) cannot install a handler
// for it; listing it would be a no-op, not a safety net.
var fatalSignals = []os.Signal{
	syscall.SIGABRT,
	syscall.SIGBUS,
	syscall.SIGFPE,
	syscall.SIGHUP,
	syscall.SIGILL,
	syscall.SIGINT,
	syscall.SIGPIPE,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGTRAP,
}

// Daemon is the top-level process state described by §4.6: the
// listener, the shared tunnel registry, and the ambient services
// (logging, host allowlist, audit log) every session consults.
type Daemon struct {
	sockPath   string
	listener   *net.UnixListener
	registry   *Registry
	allow      *allowlist.List
	auditLog   *audit.Log
	log        *slog.Logger
	shutdownCh chan struct{}
}

// New constructs a Daemon. Foreground controls whether logs go to
// stderr (for `tund daemon --foreground`) or to the per-user log file
// next to the socket.
func New(foreground bool) (*Daemon, error) {
	sockPath, err := core.SocketPath()
	if err != nil {
		return nil, fmt.Errorf("daemon: determine socket path: %w", err)
	}

	log, err := setupLogging(foreground)
	if err != nil {
		return nil, fmt.Errorf("daemon: set up logging: %w", err)
	}

	allow, err := allowlist.Load(core.GetAllowlistPath())
	if err != nil {
		log.Warn("failed to load host allowlist, proceeding permissively", "err", err)
		allow = &allowlist.List{}
	}
	watchAllowlist(core.GetAllowlistPath(), allow, log)

	auditLog, err := audit.Open(core.GetAuditDBPath())
	if err != nil {
		// Per design: a failed audit open degrades to a no-op logger,
		// never a fatal daemon startup error.
		log.Warn("failed to open audit log, auditing disabled for this run", "err", err)
		auditLog = nil
	}

	listener, err := transport.Listen(sockPath)
	if err != nil {
		return nil, err
	}

	return &Daemon{
		sockPath:   sockPath,
		listener:   listener,
		registry:   NewRegistry(),
		allow:      allow,
		auditLog:   auditLog,
		log:        log,
		shutdownCh: make(chan struct{}, 1),
	}, nil
}

func setupLogging(foreground bool) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if !foreground {
		logPath, err := core.LogPath()
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", logPath, err)
		}
		w = f
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.DateTime,
	})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}

// watchAllowlist hot-reloads the host allowlist on modification so an
// operator can tighten or loosen it without restarting the daemon.
// Failure to start the watch is logged and non-fatal: the allowlist
// simply won't reload until the next daemon restart.
func watchAllowlist(path string, allow *allowlist.List, log *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("allowlist watch disabled", "err", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		// Most common case: the allowlist file doesn't exist yet. Not an
		// error worth surfacing above Debug.
		log.Debug("allowlist watch not started", "path", path, "err", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := allow.Reload(path); err != nil {
						log.Warn("allowlist reload failed", "err", err)
					} else {
						log.Info("allowlist reloaded", "path", path)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("allowlist watcher error", "err", err)
			}
		}
	}()
}

// Run accepts connections until a fatal signal arrives, then returns.
// Each accepted connection is handed to an independently running
// Session; session completion is logged but never influences daemon
// lifetime, per §4.6. A nil-looking lifecycle exit (signal or client
// shutdown request) is still returned wrapped in ErrRuntime, so a
// caller can tell "told to stop" apart from "accept loop broke" with
// errors.Is instead of re-deriving it from a nil check.
func (d *Daemon) Run() error {
	defer d.shutdown()

	exitCh := make(chan os.Signal, 1)
	signal.Notify(exitCh, fatalSignals...)

	acceptErrCh := make(chan error, 1)
	go d.acceptLoop(acceptErrCh)

	select {
	case sig := <-exitCh:
		d.log.Info("exiting on signal", "signal", sig)
		return fmt.Errorf("daemon: exiting on signal %s: %w", sig, protocol.ErrRuntime)
	case <-d.shutdownCh:
		d.log.Info("exiting on client shutdown request")
		return fmt.Errorf("daemon: exiting on client shutdown request: %w", protocol.ErrRuntime)
	case err := <-acceptErrCh:
		d.log.Error("accept loop terminated", "err", err)
		return err
	}
}

func (d *Daemon) acceptLoop(errCh chan<- error) {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			errCh <- fmt.Errorf("daemon: accept: %w: %w", protocol.ErrTransport, err)
			return
		}

		if uc, ok := conn.(*net.UnixConn); ok {
			if err := transport.ApplyLinger(uc); err != nil {
				d.log.Warn("failed to apply linger", "err", err)
			}
		}

		session := NewSession(conn, d.registry, d.allow, d.auditLog, d.shutdownCh, d.log)
		go func() {
			session.Run()
			d.log.Debug("client session finished")
		}()
	}
}

func (d *Daemon) shutdown() {
	d.log.Info("shutting down")
	d.listener.Close()
	os.Remove(d.sockPath)
	if d.auditLog != nil {
		d.auditLog.Close()
	}
}
