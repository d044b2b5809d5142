package protocol

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameRoundTripClientMessages(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	msgs := []ClientMessage{
		NewOpen("h1"),
		NewUserData([]byte("pw\n")),
		EndOfUserData(),
		Goodbye(),
		Exit(),
	}

	for _, m := range msgs {
		if err := fw.WriteClientMessage(m); err != nil {
			t.Fatalf("WriteClientMessage(%v): %v", m, err)
		}
	}

	fr := NewFrameReader(&buf)
	for i, want := range msgs {
		got, err := fr.ReadClientMessage()
		if err != nil {
			t.Fatalf("ReadClientMessage[%d]: %v", i, err)
		}
		if got.Type != want.Type {
			t.Fatalf("frame %d: got type %q, want %q", i, got.Type, want.Type)
		}
		if want.Open != nil {
			if got.Open == nil || got.Open.Host != want.Open.Host {
				t.Fatalf("frame %d: open params mismatch: %+v", i, got.Open)
			}
		}
		if !bytes.Equal(got.UserData, want.UserData) {
			t.Fatalf("frame %d: user data mismatch", i)
		}
	}

	if _, err := fr.ReadClientMessage(); err != io.EOF {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFrameRoundTripServerMessages(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	msgs := []ServerMessage{
		Ok(),
		NewSshData([]byte("banner\n")),
		TunnelAlreadyOpen(),
		NewError("boom"),
	}

	for _, m := range msgs {
		if err := fw.WriteServerMessage(m); err != nil {
			t.Fatalf("WriteServerMessage(%v): %v", m, err)
		}
	}

	fr := NewFrameReader(&buf)
	for i, want := range msgs {
		got, err := fr.ReadServerMessage()
		if err != nil {
			t.Fatalf("ReadServerMessage[%d]: %v", i, err)
		}
		if got.Type != want.Type || got.Error != want.Error || !bytes.Equal(got.SshData, want.SshData) {
			t.Fatalf("frame %d mismatch: got %+v, want %+v", i, got, want)
		}
	}
}

func TestFrameOrderingPreserved(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	for i := 0; i < 50; i++ {
		fw.WriteServerMessage(NewSshData([]byte{byte(i)}))
	}

	fr := NewFrameReader(&buf)
	for i := 0; i < 50; i++ {
		msg, err := fr.ReadServerMessage()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(msg.SshData) != 1 || msg.SshData[0] != byte(i) {
			t.Fatalf("frame %d out of order: got %v", i, msg.SshData)
		}
	}
}

func TestStatusAndShutdownRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)

	if err := fw.WriteClientMessage(StatusRequest()); err != nil {
		t.Fatalf("write status request: %v", err)
	}
	if err := fw.WriteClientMessage(ShutdownRequest()); err != nil {
		t.Fatalf("write shutdown request: %v", err)
	}

	want := NewStatus([]TunnelStatus{{Host: "bastion", PID: 123}})
	if err := fw.WriteServerMessage(want); err != nil {
		t.Fatalf("write status response: %v", err)
	}

	fr := NewFrameReader(&buf)

	got, err := fr.ReadClientMessage()
	if err != nil || got.Type != ClientStatus {
		t.Fatalf("ReadClientMessage[0]: got %+v, err %v", got, err)
	}
	got, err = fr.ReadClientMessage()
	if err != nil || got.Type != ClientShutdown {
		t.Fatalf("ReadClientMessage[1]: got %+v, err %v", got, err)
	}

	gotStatus, err := fr.ReadServerMessage()
	if err != nil {
		t.Fatalf("ReadServerMessage: %v", err)
	}
	if gotStatus.Type != ServerStatus || len(gotStatus.Tunnels) != 1 || gotStatus.Tunnels[0] != want.Tunnels[0] {
		t.Fatalf("status response mismatch: got %+v", gotStatus)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge length prefix, no body
	fr := NewFrameReader(&buf)
	if _, err := fr.ReadServerMessage(); err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}
