package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.tund.dev/tund/internal/audit"
	"go.tund.dev/tund/internal/core"
	"go.tund.dev/tund/internal/protocol"
	"go.tund.dev/tund/internal/transport"
)

func NewStatusCommand() *cobra.Command {
	var format string
	var history int

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show currently active tunnels, or recent history with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if history > 0 {
				return runStatusHistory(history, format)
			}
			return runStatusLive(format)
		},
	}
	statusCmd.Flags().StringVarP(&format, "format", "F", "text", "output format (text/json)")
	statusCmd.Flags().IntVar(&history, "history", 0, "show the last N audit log events instead of live tunnels")

	return statusCmd
}

// runStatusLive asks the running daemon to list its registry, a
// lightweight extra request/response pair layered on the same codec as
// the open exchange. If no daemon is reachable, that just means no
// tunnels are open.
func runStatusLive(format string) error {
	sockPath, err := core.SocketPath()
	if err != nil {
		return err
	}

	conn, err := transport.Dial(sockPath)
	if err != nil {
		return printTunnels(nil, format)
	}
	defer conn.Close()

	fw := protocol.NewFrameWriter(conn)
	fr := protocol.NewFrameReader(conn)

	if err := fw.WriteClientMessage(protocol.StatusRequest()); err != nil {
		return fmt.Errorf("status: send request: %w", err)
	}
	msg, err := fr.ReadServerMessage()
	if err != nil {
		return fmt.Errorf("status: read response: %w", err)
	}
	if msg.Type != protocol.ServerStatus {
		return fmt.Errorf("status: unexpected response from daemon: %s", msg.Type)
	}

	return printTunnels(msg.Tunnels, format)
}

func printTunnels(tunnels []protocol.TunnelStatus, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(tunnels)
	case "text":
		if len(tunnels) == 0 {
			fmt.Println("No active tunnels.")
			return nil
		}
		fmt.Println("Active tunnels:")
		for _, t := range tunnels {
			fmt.Printf("  - %s (PID: %d)\n", t.Host, t.PID)
		}
		return nil
	default:
		return fmt.Errorf("status: unknown format %q", format)
	}
}

// runStatusHistory reads the audit database directly, without contacting
// the daemon at all, per the design's "read-only, never restores state"
// rule for the audit log.
func runStatusHistory(limit int, format string) error {
	log, err := audit.Open(core.GetAuditDBPath())
	if err != nil {
		return fmt.Errorf("status: open audit log: %w", err)
	}
	defer log.Close()

	events, err := log.Recent(limit)
	if err != nil {
		return fmt.Errorf("status: read audit log: %w", err)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(events)
	case "text":
		if len(events) == 0 {
			fmt.Println("No audit history.")
			return nil
		}
		for _, e := range events {
			fmt.Printf("%s  %-16s %-20s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Host, e.EventType, e.Details)
		}
		return nil
	default:
		return fmt.Errorf("status: unknown format %q", format)
	}
}
