// Package protocol defines the wire messages exchanged between a tund
// client and daemon, and the length-delimited framing they travel in.
package protocol

// OpenParameters describes a client's request to open a tunnel.
type OpenParameters struct {
	Host string `json:"host"`
}

// ClientMessage is the closed sum type of messages a client may send to
// the daemon. At most one of the Open/* fields is populated, selected by
// Type; the sentinel messages populate none.
type ClientMessage struct {
	Type string `json:"type"`

	// Open carries OpenParameters when Type == ClientOpen.
	Open *OpenParameters `json:"open,omitempty"`

	// UserData carries raw bytes typed by the user when Type == ClientUserData.
	UserData []byte `json:"user_data,omitempty"`
}

// TunnelStatus describes one live entry in the daemon's registry, as
// reported in response to a status request.
type TunnelStatus struct {
	Host string `json:"host"`
	PID  int    `json:"pid"`
}

// ServerMessage is the closed sum type of messages a daemon may send to
// a client.
type ServerMessage struct {
	Type string `json:"type"`

	// SshData carries bytes read from the PTY when Type == ServerSshData.
	SshData []byte `json:"ssh_data,omitempty"`

	// Error carries a human-readable message when Type == ServerError.
	Error string `json:"error,omitempty"`

	// Tunnels carries the registry snapshot when Type == ServerStatus.
	Tunnels []TunnelStatus `json:"tunnels,omitempty"`
}

// Client message tags.
const (
	ClientOpen          = "open"
	ClientUserData      = "user_data"
	ClientEndOfUserData = "end_of_user_data"
	ClientGoodbye       = "goodbye"
	ClientExit          = "exit"

	// ClientStatus and ClientShutdown are a small extra request/response
	// pair layered on the same codec, outside the Open exchange proper:
	// a CLI-level convenience the core protocol doesn't need but `tund
	// status`/`tund stop` do.
	ClientStatus   = "status"
	ClientShutdown = "shutdown"
)

// Server message tags.
const (
	ServerOk                = "ok"
	ServerSshData           = "ssh_data"
	ServerTunnelAlreadyOpen = "tunnel_already_open"
	ServerError             = "error"
	ServerStatus            = "status"
)

// NewOpen builds a ClientMessage requesting a tunnel to host.
func NewOpen(host string) ClientMessage {
	return ClientMessage{Type: ClientOpen, Open: &OpenParameters{Host: host}}
}

// NewUserData builds a ClientMessage forwarding bytes typed by the user.
func NewUserData(b []byte) ClientMessage {
	return ClientMessage{Type: ClientUserData, UserData: b}
}

// EndOfUserData is the sentinel ClientMessage signaling the interactive
// phase is complete.
func EndOfUserData() ClientMessage { return ClientMessage{Type: ClientEndOfUserData} }

// Goodbye is the sentinel ClientMessage closing a session cleanly.
func Goodbye() ClientMessage { return ClientMessage{Type: ClientGoodbye} }

// Exit is the sentinel ClientMessage the daemon handles like Goodbye: it
// closes the session and does not stop the daemon (see ShutdownRequest).
func Exit() ClientMessage { return ClientMessage{Type: ClientExit} }

// StatusRequest is the sentinel ClientMessage asking the daemon to list
// its live tunnels.
func StatusRequest() ClientMessage { return ClientMessage{Type: ClientStatus} }

// ShutdownRequest is the sentinel ClientMessage asking the daemon to
// exit entirely, distinct from the session-local Exit/Goodbye above.
func ShutdownRequest() ClientMessage { return ClientMessage{Type: ClientShutdown} }

// Ok is the sentinel ServerMessage acknowledging a prior command.
func Ok() ServerMessage { return ServerMessage{Type: ServerOk} }

// NewSshData builds a ServerMessage carrying bytes read from the PTY.
func NewSshData(b []byte) ServerMessage {
	return ServerMessage{Type: ServerSshData, SshData: b}
}

// TunnelAlreadyOpen is the sentinel ServerMessage for the short-circuit case.
func TunnelAlreadyOpen() ServerMessage { return ServerMessage{Type: ServerTunnelAlreadyOpen} }

// NewError builds a session-fatal ServerMessage.
func NewError(msg string) ServerMessage { return ServerMessage{Type: ServerError, Error: msg} }

// NewStatus builds a ServerMessage reporting the live tunnel registry.
func NewStatus(tunnels []TunnelStatus) ServerMessage {
	return ServerMessage{Type: ServerStatus, Tunnels: tunnels}
}
