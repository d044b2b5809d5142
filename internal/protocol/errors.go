package protocol

import "errors"

// Error kinds. Each is wrapped into the errors that actually occur at
// that layer via fmt.Errorf("...: %w", ...), so a caller can tell kinds
// apart with errors.Is instead of matching on message text:
//
//   - ErrTransport: socket/frame I/O failures (internal/transport,
//     internal/protocol's codec, the daemon's accept loop).
//   - ErrProtocol: malformed or out-of-sequence messages (bad frame
//     encoding, an unexpected message type for the current state).
//   - ErrResource: local resource acquisition failures (PTY allocation,
//     socket bind).
//   - ErrRuntime: the daemon's own lifecycle events (signal-triggered or
//     client-requested shutdown) reported back up as errors so Run's
//     caller can distinguish "told to stop" from "something broke".
//   - ErrUser: failures caused by what the user asked for rather than a
//     daemon or client bug (host not in the allowlist, the SSH process
//     itself failing) — reported to the CLI caller as a real Go error so
//     it can be shown without the usual "something went wrong" framing.
var (
	ErrTransport = errors.New("transport error")
	ErrProtocol  = errors.New("protocol error")
	ErrResource  = errors.New("resource error")
	ErrRuntime   = errors.New("runtime error")
	ErrUser      = errors.New("user error")
)
