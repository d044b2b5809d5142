// Package client drives the interactive "open" exchange from the
// caller's side: issuing the request, proxying the user's raw terminal
// to the daemon until the detach sentinel is typed, and tearing down
// cleanly.
package client

import (
	"fmt"
	"io"
	"log/slog"

	"go.tund.dev/tund/internal/protocol"
)

// Result distinguishes why an Open call finished successfully.
type Result int

const (
	// ResultSuccess means the interactive exchange ran to completion.
	ResultSuccess Result = iota
	// ResultAlreadyOpen means the daemon reported the tunnel already exists.
	ResultAlreadyOpen
)

// clientState names the states of §4.5: Issue, FirstAck, Communicating,
// CleaningUpIo, Finished.
type clientState int

const (
	stateIssue clientState = iota
	stateFirstAck
	stateCommunicating
	stateCleaningUpIo
	stateFinished
)

// Open drives one complete open exchange over fr/fw: in is the user's
// raw-mode input stream, out is where SSH output is written for the
// user to see. Open blocks until the exchange reaches Finished.
func Open(fr *protocol.FrameReader, fw *protocol.FrameWriter, host string, in io.Reader, out io.Writer) (Result, error) {
	o := &opener{
		fr:          fr,
		fw:          fw,
		host:        host,
		in:          in,
		out:         out,
		term:        NewTerminatorAcceptor(),
		daemonMsgCh: make(chan protocol.ServerMessage),
		daemonErrCh: make(chan error, 1),
	}
	return o.run()
}

type opener struct {
	fr   *protocol.FrameReader
	fw   *protocol.FrameWriter
	host string
	in   io.Reader
	out  io.Writer
	term *TerminatorAcceptor

	// daemonMsgCh/daemonErrCh are fed by a single reader goroutine
	// started once in run() and used for the opener's entire lifetime —
	// Communicating and CleaningUpIo both consume from these channels
	// rather than calling the FrameReader directly, avoiding the two
	// states racing to read the same underlying connection.
	daemonMsgCh chan protocol.ServerMessage
	daemonErrCh chan error
}

func (o *opener) run() (Result, error) {
	go func() {
		for {
			msg, err := o.fr.ReadServerMessage()
			if err != nil {
				o.daemonErrCh <- err
				return
			}
			o.daemonMsgCh <- msg
		}
	}()

	state := stateIssue
	var result Result

	for {
		switch state {
		case stateIssue:
			if err := o.fw.WriteClientMessage(protocol.NewOpen(o.host)); err != nil {
				return 0, fmt.Errorf("client: send open request: %w", err)
			}
			state = stateFirstAck

		case stateFirstAck:
			var msg protocol.ServerMessage
			select {
			case msg = <-o.daemonMsgCh:
			case err := <-o.daemonErrCh:
				return 0, fmt.Errorf("client: read first ack: %w: %w", protocol.ErrTransport, err)
			}
			switch msg.Type {
			case protocol.ServerOk:
				state = stateCommunicating
			case protocol.ServerTunnelAlreadyOpen:
				return ResultAlreadyOpen, nil
			case protocol.ServerError:
				return 0, fmt.Errorf("daemon: %s: %w", msg.Error, protocol.ErrUser)
			default:
				return 0, fmt.Errorf("client: unexpected message from daemon: %s: %w", msg.Type, protocol.ErrProtocol)
			}

		case stateCommunicating:
			next, err := o.communicate()
			if err != nil {
				return 0, err
			}
			state = next

		case stateCleaningUpIo:
			r, err := o.cleanUpIo()
			if err != nil {
				return 0, err
			}
			result = r
			state = stateFinished

		case stateFinished:
			return result, nil
		}
	}
}

// communicate runs the bidirectional proxy loop of §4.5's Communicating
// state. It reads user bytes and daemon frames concurrently, feeding
// each user byte through the terminator acceptor, until the sentinel is
// recognized.
func (o *opener) communicate() (clientState, error) {
	userInCh := make(chan []byte)
	userInErrCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := o.in.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				userInCh <- chunk
			}
			if err != nil {
				userInErrCh <- err
				return
			}
		}
	}()

	for {
		select {
		case chunk := <-userInCh:
			for _, b := range chunk {
				if o.term.Feed(b) {
					if err := o.fw.WriteClientMessage(protocol.NewUserData(chunk)); err != nil {
						return 0, fmt.Errorf("client: send user data: %w", err)
					}
					return stateCleaningUpIo, nil
				}
			}
			if err := o.fw.WriteClientMessage(protocol.NewUserData(chunk)); err != nil {
				return 0, fmt.Errorf("client: send user data: %w", err)
			}

		case err := <-userInErrCh:
			return 0, fmt.Errorf("client: read user input: %w", err)

		case msg := <-o.daemonMsgCh:
			switch msg.Type {
			case protocol.ServerSshData:
				if _, err := o.out.Write(msg.SshData); err != nil {
					return 0, fmt.Errorf("client: write ssh output: %w", err)
				}
			case protocol.ServerError:
				return 0, fmt.Errorf("daemon: %s: %w", msg.Error, protocol.ErrUser)
			default:
				return 0, fmt.Errorf("client: unexpected message from daemon: %s: %w", msg.Type, protocol.ErrProtocol)
			}

		case err := <-o.daemonErrCh:
			return 0, fmt.Errorf("client: read from daemon: %w: %w", protocol.ErrTransport, err)
		}
	}
}

// cleanUpIo implements §4.5's CleaningUpIo: send EndOfUserData once,
// then keep draining daemon frames — trailing SshData is logged and
// dropped rather than delivered, since resuming delivery would mean
// keeping the terminal in raw mode and proxying output after the user
// already asked to detach, the exact background-proxy behavior the
// design deliberately omits.
func (o *opener) cleanUpIo() (Result, error) {
	if err := o.fw.WriteClientMessage(protocol.EndOfUserData()); err != nil {
		return 0, fmt.Errorf("client: send end of user data: %w", err)
	}

	for {
		var msg protocol.ServerMessage
		select {
		case msg = <-o.daemonMsgCh:
		case err := <-o.daemonErrCh:
			return 0, fmt.Errorf("client: read during cleanup: %w: %w", protocol.ErrTransport, err)
		}
		switch msg.Type {
		case protocol.ServerOk:
			return ResultSuccess, nil
		case protocol.ServerSshData:
			// trailing output, logged and intentionally dropped
			slog.Debug("client: dropping trailing ssh output after detach", "bytes", len(msg.SshData))
			continue
		case protocol.ServerError:
			return 0, fmt.Errorf("daemon: %s: %w", msg.Error, protocol.ErrUser)
		default:
			return 0, fmt.Errorf("client: unexpected message from daemon during cleanup: %s: %w", msg.Type, protocol.ErrProtocol)
		}
	}
}
