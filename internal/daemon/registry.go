package daemon

import (
	"os"
	"sync"

	"go.tund.dev/tund/internal/protocol"
)

// Tunnel is a daemon's record of one running "ssh -N <host>" child: the
// PTY it's attached to and the supervisor goroutine that owns its
// lifetime. Sessions only ever ask the supervisor to kill the child,
// never touch the child process directly once the tunnel is registered.
type Tunnel struct {
	Host       string
	PTY        *os.File
	PID        int
	Supervisor *Supervisor
}

// Registry tracks the daemon's live tunnels, keyed by host. All access
// goes through short, mutex-guarded critical sections — nothing here
// blocks on I/O.
type Registry struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tunnels: make(map[string]*Tunnel)}
}

// Lookup returns the tunnel for host, if one is open.
func (r *Registry) Lookup(host string) (*Tunnel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tunnels[host]
	return t, ok
}

// Insert records a newly spawned tunnel. Callers must have already
// confirmed no tunnel for this host exists (the registry does not
// enforce exclusivity itself — that's a session-level decision so the
// error can carry context back to the client).
func (r *Registry) Insert(t *Tunnel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunnels[t.Host] = t
}

// Remove drops the record for host. It's a no-op if absent, since both
// the supervisor (on child death) and an explicit kill path may race to
// remove the same entry.
func (r *Registry) Remove(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tunnels, host)
}

// Snapshot returns the current registry contents as the wire type
// `tund status` reports.
func (r *Registry) Snapshot() []protocol.TunnelStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.TunnelStatus, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, protocol.TunnelStatus{Host: t.Host, PID: t.PID})
	}
	return out
}
