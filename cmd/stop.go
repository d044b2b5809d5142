package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.tund.dev/tund/internal/core"
	"go.tund.dev/tund/internal/protocol"
	"go.tund.dev/tund/internal/transport"
)

// NewStopCommand returns the "stop" subcommand: a daemon-wide shutdown
// request, distinct from the session-local ClientExit/Goodbye exchanged
// during an open. There is no per-tunnel stop — killing one tunnel while
// leaving the daemon (and others) running isn't a protocol operation; a
// tunnel ends when its ssh child exits. The daemon's shutdown path does
// not kill the ssh children it started.
func NewStopCommand() *cobra.Command {
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Shut down the tund daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}

	return stopCmd
}

func runStop() error {
	sockPath, err := core.SocketPath()
	if err != nil {
		return err
	}

	conn, err := transport.Dial(sockPath)
	if err != nil {
		fmt.Println("tund: daemon is not running, nothing to stop")
		return nil
	}

	fw := protocol.NewFrameWriter(conn)
	fr := protocol.NewFrameReader(conn)

	if err := fw.WriteClientMessage(protocol.ShutdownRequest()); err != nil {
		conn.Close()
		return fmt.Errorf("stop: send request: %w", err)
	}
	if _, err := fr.ReadServerMessage(); err != nil {
		conn.Close()
		return fmt.Errorf("stop: read acknowledgement: %w", err)
	}
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c, err := transport.Dial(sockPath); err == nil {
			c.Close()
			time.Sleep(50 * time.Millisecond)
			continue
		}
		fmt.Println("tund: daemon stopped")
		return nil
	}

	return fmt.Errorf("stop: daemon did not stop answering within 3s")
}
