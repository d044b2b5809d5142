package daemon

import (
	"log/slog"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"go.tund.dev/tund/internal/audit"
)

// DeathReason distinguishes an SSH child that exited on its own from one
// the daemon killed deliberately.
type DeathReason int

const (
	// DiedOnOwnAccord means Wait() returned because the process exited
	// or was killed by something other than our own kill channel.
	DiedOnOwnAccord DeathReason = iota
	// DiedByRequest means the daemon asked this tunnel to close.
	DiedByRequest
)

// ChildDeath is delivered to a session's wait channel exactly once, when
// the supervised child is no longer running.
type ChildDeath struct {
	Reason   DeathReason
	ExitCode int
	Err      error
}

// livenessCheckInterval bounds how often the supervisor double-checks the
// child is actually still alive via /proc, independent of Wait(). This is
// a diagnostic belt-and-suspenders measure: Wait() is authoritative, but
// a stuck cgroup freezer or a reparented zombie can make Wait() hang
// indefinitely, and logging that mismatch helps operators during
// debugging sessions.
const livenessCheckInterval = 30 * time.Second

// Supervisor owns one "ssh -N <host>" child process for its entire
// lifetime: waiting for it to die, or killing it on request, then
// notifying exactly one waiter and removing the tunnel from the
// registry. This mirrors the AwaitingChildEvent / NotifyingChildDied
// states of the original child monitor, collapsed into a single
// goroutine with a select loop since Go doesn't need a futures state
// machine to avoid blocking a shared reactor thread.
type Supervisor struct {
	host     string
	cmd      *exec.Cmd
	registry *Registry
	auditLog *audit.Log
	log      *slog.Logger

	txKill chan struct{}
	txDie  chan ChildDeath
}

// StartSupervisor launches the goroutine that waits on cmd and reports
// back over the returned channel exactly once. txKill has capacity 1:
// spec invariant is that at most one kill request is ever pending, and a
// buffered channel of exactly that size lets RequestKill never block
// even if nobody is listening anymore.
func StartSupervisor(host string, cmd *exec.Cmd, reg *Registry, al *audit.Log, log *slog.Logger) (*Supervisor, <-chan ChildDeath) {
	s := &Supervisor{
		host:     host,
		cmd:      cmd,
		registry: reg,
		auditLog: al,
		log:      log,
		txKill:   make(chan struct{}, 1),
		txDie:    make(chan ChildDeath, 1),
	}
	go s.run()
	return s, s.txDie
}

// RequestKill asks the supervised child to die. Non-blocking: if a kill
// is already pending, or the child has already died, this is a no-op.
func (s *Supervisor) RequestKill() {
	select {
	case s.txKill <- struct{}{}:
	default:
	}
}

func (s *Supervisor) run() {
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- s.cmd.Wait()
	}()

	ticker := time.NewTicker(livenessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitDone:
			s.registry.Remove(s.host)
			exitCode := 0
			if s.cmd.ProcessState != nil {
				exitCode = s.cmd.ProcessState.ExitCode()
			}
			s.record(audit.EventTunnelDied, err)
			s.txDie <- ChildDeath{Reason: DiedOnOwnAccord, ExitCode: exitCode, Err: err}
			return

		case <-s.txKill:
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			err := <-waitDone
			s.registry.Remove(s.host)
			s.record(audit.EventTunnelKilled, nil)
			s.txDie <- ChildDeath{Reason: DiedByRequest, Err: err}
			return

		case <-ticker.C:
			s.checkLiveness()
		}
	}
}

// checkLiveness cross-checks the kernel's view of the process against
// what we expect. A mismatch doesn't change behavior — Wait() still owns
// the authoritative outcome — but it's logged so an operator can see it
// in the daemon log if SSH ever gets stuck in an unkillable state.
func (s *Supervisor) checkLiveness() {
	if s.cmd.Process == nil {
		return
	}
	p, err := process.NewProcess(int32(s.cmd.Process.Pid))
	if err != nil {
		s.log.Warn("liveness check: process lookup failed", "host", s.host, "pid", s.cmd.Process.Pid, "err", err)
		return
	}
	running, err := p.IsRunning()
	if err != nil {
		s.log.Warn("liveness check: status query failed", "host", s.host, "pid", s.cmd.Process.Pid, "err", err)
		return
	}
	if !running {
		s.log.Warn("liveness check: child reported not running but Wait() has not returned", "host", s.host, "pid", s.cmd.Process.Pid)
	}
}

func (s *Supervisor) record(eventType string, err error) {
	if s.auditLog == nil {
		return
	}
	details := ""
	if err != nil {
		details = err.Error()
	}
	if rerr := s.auditLog.Record(s.host, eventType, details); rerr != nil {
		s.log.Warn("audit record failed", "host", s.host, "event", eventType, "err", rerr)
	}
}
