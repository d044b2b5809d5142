package client

import (
	"bytes"
	"net"
	"testing"
	"time"

	"go.tund.dev/tund/internal/protocol"
)

// stepReader hands out chunks one at a time, pausing between them. Used
// to make the race between "termination chunk arrives" and "trailing
// server frame arrives" deterministic in tests: a delay longer than any
// in-process channel hop guarantees the server frame already sent before
// the delay is drained before the next chunk is read.
type stepReader struct {
	chunks []string
	delay  time.Duration
	i      int
}

func (r *stepReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		select {} // block forever; the caller has already gotten what it needs
	}
	if r.i > 0 {
		time.Sleep(r.delay)
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	return n, nil
}

// TestOpenHappyPath drives Open against a fake daemon peer that
// acknowledges the open request, echoes one chunk of SSH output, then
// answers Ok once EndOfUserData arrives.
func TestOpenHappyPath(t *testing.T) {
	clientConn, daemonConn := net.Pipe()
	defer daemonConn.Close()

	dfr := protocol.NewFrameReader(daemonConn)
	dfw := protocol.NewFrameWriter(daemonConn)

	done := make(chan struct{})
	go func() {
		defer close(done)

		msg, err := dfr.ReadClientMessage()
		if err != nil || msg.Type != protocol.ClientOpen || msg.Open == nil || msg.Open.Host != "bastion" {
			t.Errorf("daemon: unexpected open request: %+v, err=%v", msg, err)
			return
		}
		if err := dfw.WriteServerMessage(protocol.Ok()); err != nil {
			t.Errorf("daemon: write ok: %v", err)
			return
		}

		if err := dfw.WriteServerMessage(protocol.NewSshData([]byte("welcome\n"))); err != nil {
			t.Errorf("daemon: write ssh data: %v", err)
			return
		}

		for {
			msg, err := dfr.ReadClientMessage()
			if err != nil {
				t.Errorf("daemon: read during communicate: %v", err)
				return
			}
			if msg.Type == protocol.ClientEndOfUserData {
				dfw.WriteServerMessage(protocol.Ok())
				return
			}
		}
	}()

	fr := protocol.NewFrameReader(clientConn)
	fw := protocol.NewFrameWriter(clientConn)

	in := &stepReader{chunks: []string{"hello\n", ".\n"}, delay: 100 * time.Millisecond}
	var out bytes.Buffer

	result, err := Open(fr, fw, "bastion", in, &out)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if result != ResultSuccess {
		t.Fatalf("expected ResultSuccess, got %v", result)
	}
	if out.String() != "welcome\n" {
		t.Fatalf("expected ssh output to be written to out, got %q", out.String())
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fake daemon goroutine")
	}
}

// TestOpenAlreadyOpen checks the TunnelAlreadyOpen short-circuit is
// reported back to the caller without entering Communicating at all.
func TestOpenAlreadyOpen(t *testing.T) {
	clientConn, daemonConn := net.Pipe()
	defer daemonConn.Close()

	dfr := protocol.NewFrameReader(daemonConn)
	dfw := protocol.NewFrameWriter(daemonConn)

	go func() {
		if _, err := dfr.ReadClientMessage(); err != nil {
			t.Errorf("daemon: read open: %v", err)
			return
		}
		dfw.WriteServerMessage(protocol.TunnelAlreadyOpen())
	}()

	fr := protocol.NewFrameReader(clientConn)
	fw := protocol.NewFrameWriter(clientConn)

	result, err := Open(fr, fw, "bastion", bytes.NewBufferString(""), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if result != ResultAlreadyOpen {
		t.Fatalf("expected ResultAlreadyOpen, got %v", result)
	}
}

// TestOpenDaemonErrorDuringAck verifies a ServerError during FirstAck
// surfaces as an error rather than a Result.
func TestOpenDaemonErrorDuringAck(t *testing.T) {
	clientConn, daemonConn := net.Pipe()
	defer daemonConn.Close()

	dfr := protocol.NewFrameReader(daemonConn)
	dfw := protocol.NewFrameWriter(daemonConn)

	go func() {
		if _, err := dfr.ReadClientMessage(); err != nil {
			t.Errorf("daemon: read open: %v", err)
			return
		}
		dfw.WriteServerMessage(protocol.NewError("host not in allowlist"))
	}()

	fr := protocol.NewFrameReader(clientConn)
	fw := protocol.NewFrameWriter(clientConn)

	_, err := Open(fr, fw, "bastion", bytes.NewBufferString(""), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected an error from Open")
	}
}
