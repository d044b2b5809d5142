package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"go.tund.dev/tund/internal/allowlist"
	"go.tund.dev/tund/internal/audit"
	"go.tund.dev/tund/internal/protocol"
)

// sessionState names the states of the per-client session machine.
// CommunicatingForOpen and FinalizingOpen are folded into handleOpen
// itself: Go's blocking I/O means there is no shared reactor thread to
// avoid stalling, so the setup-then-exchange sequence runs as one
// synchronous call rather than two separately resumable states.
type sessionState int

const (
	stateAwaitingCommand sessionState = iota
	stateAborting
	stateFinished
)

// Session drives one connected client from accept to teardown: dispatch
// top-level commands, run the interactive open exchange, and forward PTY
// bytes in both directions. Exactly one Session exists per accepted
// connection. The tunnel it opens outlives it: at FinalizingOpen the
// session closes the PTY master, and only the supervisor keeps a handle
// on the child.
//
// One goroutine reads client frames for the session's entire lifetime
// and feeds clientMsgCh/clientErrCh; every state (AwaitingCommand and
// CommunicatingForOpen alike) consumes from those channels rather than
// calling the FrameReader directly. This is what "re-armed on the same
// stream" from the state machine description collapses to in Go: one
// reader, reused across states, instead of a fresh poll per state.
type Session struct {
	conn     net.Conn
	fr       *protocol.FrameReader
	fw       *protocol.FrameWriter
	registry *Registry
	allow    *allowlist.List
	auditLog *audit.Log
	log      *slog.Logger
	peer     string

	// shutdownCh signals the daemon's top-level Run loop to exit, in
	// response to a ClientShutdown request. It is distinct from
	// ClientExit/Goodbye, which only ever close the current session.
	shutdownCh chan<- struct{}

	clientMsgCh chan protocol.ClientMessage
	clientErrCh chan error
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, registry *Registry, allow *allowlist.List, auditLog *audit.Log, shutdownCh chan<- struct{}, log *slog.Logger) *Session {
	return &Session{
		conn:        conn,
		fr:          protocol.NewFrameReader(conn),
		fw:          protocol.NewFrameWriter(conn),
		registry:    registry,
		allow:       allow,
		auditLog:    auditLog,
		shutdownCh:  shutdownCh,
		log:         log,
		peer:        conn.RemoteAddr().String(),
		clientMsgCh: make(chan protocol.ClientMessage),
		clientErrCh: make(chan error, 1),
	}
}

// Run drives the session to completion and closes the connection. It
// never returns an error to the caller: all failures are session-local
// and are logged here, per the spec's propagation rule that a session
// error aborts only that session.
func (s *Session) Run() {
	defer s.conn.Close()

	go func() {
		for {
			msg, err := s.fr.ReadClientMessage()
			if err != nil {
				s.clientErrCh <- err
				return
			}
			s.clientMsgCh <- msg
		}
	}()

	state := stateAwaitingCommand
	var abortMsg string

	for {
		switch state {
		case stateAwaitingCommand:
			state, abortMsg = s.awaitCommand()

		case stateAborting:
			if abortMsg != "" {
				s.record("", audit.EventSessionError, abortMsg)
				s.fw.WriteServerMessage(protocol.NewError(abortMsg))
			}
			state = stateFinished

		case stateFinished:
			s.log.Debug("session finished", "peer", s.peer)
			return
		}
	}
}

func (s *Session) awaitCommand() (sessionState, string) {
	var msg protocol.ClientMessage
	select {
	case msg = <-s.clientMsgCh:
	case err := <-s.clientErrCh:
		if err != io.EOF {
			s.log.Warn("transport error awaiting command", "peer", s.peer, "err", err)
		}
		return stateFinished, ""
	}

	switch msg.Type {
	case protocol.ClientOpen:
		if msg.Open == nil {
			return stateAborting, fmt.Errorf("open request missing parameters: %w", protocol.ErrProtocol).Error()
		}
		return s.handleOpen(*msg.Open)

	case protocol.ClientGoodbye, protocol.ClientExit:
		// The original treats Exit identically to Goodbye: a session-local
		// close, not a daemon-wide shutdown signal. A separate top-level
		// command exists for stopping the daemon.
		return stateFinished, ""

	case protocol.ClientStatus:
		if err := s.fw.WriteServerMessage(protocol.NewStatus(s.registry.Snapshot())); err != nil {
			return stateFinished, ""
		}
		return stateAwaitingCommand, ""

	case protocol.ClientShutdown:
		if err := s.fw.WriteServerMessage(protocol.Ok()); err != nil {
			return stateFinished, ""
		}
		select {
		case s.shutdownCh <- struct{}{}:
		default:
			// Already shutting down; nothing more to signal.
		}
		return stateFinished, ""

	default:
		return stateAborting, fmt.Errorf("unexpected message from client: %s: %w", msg.Type, protocol.ErrProtocol).Error()
	}
}

// handleOpen implements the open-setup sequence (PTY allocation, SSH
// spawn, supervisor start, registry insert) and then runs the
// interactive CommunicatingForOpen exchange inline, since in Go there is
// no benefit to splitting setup and the exchange into separate states
// the way a futures state machine must.
func (s *Session) handleOpen(params protocol.OpenParameters) (sessionState, string) {
	s.record(params.Host, audit.EventOpenRequested, "")

	if !s.allow.Allows(params.Host) {
		s.record(params.Host, audit.EventOpenFailed, "host not in allowlist")
		return stateAborting, fmt.Errorf("host %q is not in the configured allowlist: %w", params.Host, protocol.ErrUser).Error()
	}

	// Step 0 (added beyond the original): short-circuit if a tunnel is
	// already open for this host, before any PTY/spawn work. The original
	// never implements this check despite the client anticipating
	// TunnelAlreadyOpen; the spec requires it.
	if _, ok := s.registry.Lookup(params.Host); ok {
		if err := s.fw.WriteServerMessage(protocol.TunnelAlreadyOpen()); err != nil {
			return stateFinished, ""
		}
		return stateAwaitingCommand, ""
	}

	tunnel, sup, err := s.openTunnel(params.Host)
	if err != nil {
		s.record(params.Host, audit.EventOpenFailed, err.Error())
		return stateAborting, err.Error()
	}

	if err := s.fw.WriteServerMessage(protocol.Ok()); err != nil {
		sup.RequestKill()
		return stateFinished, ""
	}

	s.record(params.Host, audit.EventOpenSucceeded, fmt.Sprintf("pid=%d", tunnel.PID))

	return s.communicateForOpen(tunnel)
}

// openTunnel performs steps 1-6 of §4.4.1: allocate a PTY, spawn
// `ssh -N <host>` attached to it, start the supervisor, and register the
// tunnel. On any failure, resources already allocated are released.
func (s *Session) openTunnel(host string) (*Tunnel, *Supervisor, error) {
	cmd := exec.Command("ssh", "-N", host)
	cmd.Env = stripDisplay(os.Environ())

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY: %w: %w", protocol.ErrResource, err)
	}

	tunnel := &Tunnel{
		Host: host,
		PTY:  ptmx,
		PID:  cmd.Process.Pid,
	}

	sup, deathCh := StartSupervisor(host, cmd, s.registry, s.auditLog, s.log)
	tunnel.Supervisor = sup
	s.registry.Insert(tunnel)

	// Drain the death channel in the background for this tunnel's entire
	// lifetime so a child that dies after the session detaches doesn't
	// leave the supervisor's single-shot notification unread. The
	// original discards this value after CommunicatingForOpen ends too:
	// nothing past FinalizingOpen consumes ssh_die.
	go func() {
		<-deathCh
	}()

	return tunnel, sup, nil
}

func stripDisplay(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if len(kv) >= 8 && kv[:8] == "DISPLAY=" {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// communicateForOpen runs the bidirectional PTY proxy described in §4.4
// for CommunicatingForOpen: two reader goroutines feed a single select
// loop that writes frames to the client in enqueue order. Reaching
// FinalizingOpen still needs an explicit idle check on ptyCh/ptyErrCh
// once ClientEndOfUserData arrives — see the sawEnd branch below — since
// an unbuffered ptyCh can have a chunk ready the same instant the
// client's EndOfUserData is, and select does not prefer one over the
// other.
func (s *Session) communicateForOpen(tunnel *Tunnel) (sessionState, string) {
	ptyCh := make(chan []byte)
	ptyErrCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	// Closing the PTY master on every exit path (success, abort, or
	// transport error) is what makes the reader goroutine below actually
	// stop: Read() only returns once the descriptor it's blocked on is
	// closed. The child's own slave-side descriptors are unaffected.
	defer tunnel.PTY.Close()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := tunnel.PTY.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case ptyCh <- chunk:
				case <-done:
					return
				}
			}
			if err != nil {
				ptyErrCh <- err
				return
			}
		}
	}()

	sawEnd := false

	for {
		// FinalizingOpen only ever becomes reachable once ptyCh/ptyErrCh
		// have nothing left to offer right now: a non-blocking drain here,
		// not an unconditional check after the main select below, is what
		// keeps a PTY chunk that raced a simultaneously-ready
		// ClientEndOfUserData from being dropped — Go's select would
		// otherwise be free to pick either ready case first. This mirrors
		// the original poll_communicating_for_open, which only transitions
		// out once the sink reports idle.
		if sawEnd {
			select {
			case chunk := <-ptyCh:
				if err := s.fw.WriteServerMessage(protocol.NewSshData(chunk)); err != nil {
					return stateFinished, ""
				}
				continue
			case err := <-ptyErrCh:
				return stateAborting, fmt.Errorf("something went wrong communicating with the SSH process: %w: %w", protocol.ErrResource, err).Error()
			default:
			}

			if err := s.fw.WriteServerMessage(protocol.Ok()); err != nil {
				return stateFinished, ""
			}
			// FinalizingOpen: the session drops the PTY master here (via
			// the deferred Close above). The child's slave-side
			// descriptors stay open in its own process, so ssh -N keeps
			// running under the supervisor unaffected — it doesn't need
			// stdin once authenticated.
			return stateAwaitingCommand, ""
		}

		select {
		case msg := <-s.clientMsgCh:
			switch msg.Type {
			case protocol.ClientUserData:
				if _, err := tunnel.PTY.Write(msg.UserData); err != nil {
					return stateAborting, fmt.Errorf("error writing to SSH process: %w: %w", protocol.ErrResource, err).Error()
				}

			case protocol.ClientEndOfUserData:
				sawEnd = true

			default:
				return stateAborting, fmt.Errorf("unexpected message from the client: %s: %w", msg.Type, protocol.ErrProtocol).Error()
			}

		case err := <-s.clientErrCh:
			if err == io.EOF {
				return stateFinished, ""
			}
			return stateAborting, fmt.Errorf("transport error: %w: %w", protocol.ErrTransport, err).Error()

		case chunk := <-ptyCh:
			if err := s.fw.WriteServerMessage(protocol.NewSshData(chunk)); err != nil {
				return stateFinished, ""
			}

		case err := <-ptyErrCh:
			return stateAborting, fmt.Errorf("something went wrong communicating with the SSH process: %w: %w", protocol.ErrResource, err).Error()
		}
	}
}

func (s *Session) record(host, eventType, details string) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(host, eventType, details); err != nil {
		s.log.Warn("audit record failed", "host", host, "event", eventType, "err", err)
	}
}
