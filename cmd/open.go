package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.tund.dev/tund/internal/client"
	"go.tund.dev/tund/internal/core"
	"go.tund.dev/tund/internal/protocol"
	"go.tund.dev/tund/internal/transport"
)

// NewOpenCommand returns the "open" subcommand: the interactive
// entrypoint of §4.5's client-side state machine. It starts the daemon
// on first use, then hands the raw terminal to client.Open until the
// user types the detach sentinel.
func NewOpenCommand() *cobra.Command {
	openCmd := &cobra.Command{
		Use:               "open <host>",
		Short:             "Open an SSH tunnel by host alias, unless one is already open",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: sshHostCompletionFunc,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runOpen(args[0])
			if errors.Is(err, protocol.ErrUser) {
				// The user's own request was the problem (bad host,
				// SSH itself failing), not tund misbehaving — the
				// command's usage string would only be noise here.
				cmd.SilenceUsage = true
			}
			return err
		},
	}
	return openCmd
}

func runOpen(host string) error {
	sockPath, err := core.SocketPath()
	if err != nil {
		return err
	}

	conn, err := transport.Dial(sockPath)
	if err != nil {
		if daemonizeErr := daemonize(); daemonizeErr != nil {
			return fmt.Errorf("open: daemon not running and could not be started: %w", daemonizeErr)
		}
		conn, err = transport.Dial(sockPath)
		if err != nil {
			return fmt.Errorf("open: connect to daemon after starting it: %w", err)
		}
	}
	defer conn.Close()

	fr := protocol.NewFrameReader(conn)
	fw := protocol.NewFrameWriter(conn)

	stdinFd := int(os.Stdin.Fd())
	prevState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("open: put terminal in raw mode: %w", err)
	}
	defer term.Restore(stdinFd, prevState)

	result, err := client.Open(fr, fw, host, os.Stdin, os.Stdout)

	// Restore before printing anything further; the user's shell should
	// come back in cooked mode regardless of outcome.
	term.Restore(stdinFd, prevState)

	if err != nil {
		return err
	}

	switch result {
	case client.ResultAlreadyOpen:
		fmt.Fprintf(os.Stderr, "tund: tunnel to %s was already open\n", host)
	case client.ResultSuccess:
		fmt.Fprintf(os.Stderr, "tund: detached from %s, tunnel remains open in the background\n", host)
	}

	return nil
}
