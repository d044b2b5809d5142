package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.tund.dev/tund/internal/core"
	"go.tund.dev/tund/internal/daemon"
	"go.tund.dev/tund/internal/protocol"
	"go.tund.dev/tund/internal/transport"
)

// daemonizedEnv marks the child started by daemonize(), so that it logs
// to the per-user log file instead of its detached stderr.
const daemonizedEnv = "TUND_DAEMONIZED"

// NewDaemonCommand returns the hidden "daemon" subcommand. Users never
// invoke it directly; `tund open` spawns it indirectly via daemonize()
// the first time no socket answers.
func NewDaemonCommand() *cobra.Command {
	var foreground bool

	daemonCmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the tund daemon",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !foreground {
				return daemonize()
			}

			d, err := daemon.New(os.Getenv(daemonizedEnv) == "")
			if err != nil {
				return err
			}
			if err := d.Run(); err != nil && !errors.Is(err, protocol.ErrRuntime) {
				return err
			}
			return nil
		},
	}
	daemonCmd.Flags().BoolVar(&foreground, "foreground", false, "stay in the foreground instead of detaching")

	return daemonCmd
}

// daemonize re-execs the current binary as "daemon --foreground" inside a
// new session, then polls the socket briefly to confirm the child came up
// before returning. This is the idiomatic Go stand-in for the
// fork-and-detach the original performs with a daemonize crate.
func daemonize() error {
	sockPath, err := core.SocketPath()
	if err != nil {
		return err
	}

	child := exec.Command(os.Args[0], "daemon", "--foreground")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Env = append(os.Environ(), daemonizedEnv+"=1")

	if err := child.Start(); err != nil {
		return fmt.Errorf("daemonize: start child: %w", err)
	}
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("daemonize: release child: %w", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := transport.Dial(sockPath); err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("daemonize: daemon did not come up within 3s")
}
