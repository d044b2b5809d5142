package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame body to guard against a corrupt or
// hostile peer claiming an enormous length prefix.
const MaxFrameSize = 16 << 20 // 16 MiB

// FrameWriter writes length-delimited, JSON-encoded frames. Each Write*
// call performs its own io.Writer.Write to the underlying connection, so
// a nil error return means the frame has already been handed to the
// kernel — there is no internal buffering to flush.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w for framed writes.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteClientMessage encodes and sends one ClientMessage frame.
func (fw *FrameWriter) WriteClientMessage(msg ClientMessage) error {
	return fw.writeFrame(msg)
}

// WriteServerMessage encodes and sends one ServerMessage frame.
func (fw *FrameWriter) WriteServerMessage(msg ServerMessage) error {
	return fw.writeFrame(msg)
}

func (fw *FrameWriter) writeFrame(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode frame: %w: %w", ErrProtocol, err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("protocol: frame body too large: %d bytes: %w", len(body), ErrProtocol)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := fw.w.Write(header[:]); err != nil {
		return fmt.Errorf("protocol: write frame header: %w: %w", ErrTransport, err)
	}
	if _, err := fw.w.Write(body); err != nil {
		return fmt.Errorf("protocol: write frame body: %w: %w", ErrTransport, err)
	}
	return nil
}

// FrameReader reads length-delimited, JSON-encoded frames.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r for framed reads.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadClientMessage blocks for the next ClientMessage frame.
func (fr *FrameReader) ReadClientMessage() (ClientMessage, error) {
	var msg ClientMessage
	body, err := fr.readFrame()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("protocol: decode client frame: %w: %w", ErrProtocol, err)
	}
	return msg, nil
}

// ReadServerMessage blocks for the next ServerMessage frame.
func (fr *FrameReader) ReadServerMessage() (ServerMessage, error) {
	var msg ServerMessage
	body, err := fr.readFrame()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("protocol: decode server frame: %w: %w", ErrProtocol, err)
	}
	return msg, nil
}

func (fr *FrameReader) readFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("protocol: frame body too large: %d bytes: %w", n, ErrProtocol)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, fmt.Errorf("protocol: read frame body: %w: %w", ErrTransport, err)
	}
	return body, nil
}
