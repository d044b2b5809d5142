// Package allowlist implements an optional, HCL-defined list of SSH
// hosts the daemon is willing to open tunnels to. Absent a file, every
// host is allowed — the feature is opt-in, matching the spec's
// filesystem-permissions-only security model for the socket itself.
package allowlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// hclDocument is the on-disk shape of allowlist.hcl:
//
//	hosts = ["bastion", "prod-*", "*.internal.example.com"]
type hclDocument struct {
	Hosts []string `hcl:"hosts,optional"`
}

// List is a compiled, concurrency-safe set of host-match patterns.
// A List with no patterns allows every host.
type List struct {
	mu       sync.Mutex
	patterns []string
}

// Load reads and compiles path. A missing file is not an error: it
// returns an empty, permissive List.
func Load(path string) (*List, error) {
	l := &List{}
	if err := l.Reload(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return l, nil
}

// Reload re-reads path in place, replacing the compiled pattern set. A
// missing file clears the list back to permissive.
func (l *List) Reload(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		l.mu.Lock()
		l.patterns = nil
		l.mu.Unlock()
		return err
	}

	var doc hclDocument
	if err := hclsimple.DecodeFile(path, nil, &doc); err != nil {
		return fmt.Errorf("allowlist: parse %s: %w", path, err)
	}

	l.mu.Lock()
	l.patterns = doc.Hosts
	l.mu.Unlock()
	return nil
}

// Allows reports whether host may be opened. An empty list allows
// everything.
func (l *List) Allows(host string) bool {
	l.mu.Lock()
	patterns := l.patterns
	l.mu.Unlock()

	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := filepath.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}
