package client

// terminatorState is one of the four states of the sentinel recognizer
// for the byte sequence '\n', '.', '\n' that the user types to signal
// "done, detach now".
type terminatorState int

const (
	// stateNoLeads has seen nothing relevant to the sequence yet.
	stateNoLeads terminatorState = iota
	// stateSawFirstEnter has just seen a newline.
	stateSawFirstEnter
	// stateSawDot has seen newline then '.'.
	stateSawDot
	// stateSawSecondEnter is the absorbing accept state.
	stateSawSecondEnter
)

// TerminatorAcceptor recognizes "\n.\n" in a byte stream typed by the
// user. Seeding it in SawFirstEnter at session start (rather than
// NoLeads) lets an immediate ".\n" at the very start of input terminate
// the session, matching a user who types nothing before detaching.
type TerminatorAcceptor struct {
	state terminatorState
}

// NewTerminatorAcceptor returns an acceptor seeded in SawFirstEnter.
func NewTerminatorAcceptor() *TerminatorAcceptor {
	return &TerminatorAcceptor{state: stateSawFirstEnter}
}

// Feed advances the acceptor by one byte and reports whether the
// sequence has now been recognized. Once Accepted, Feed keeps returning
// true regardless of further input — the accept state is absorbing.
func (a *TerminatorAcceptor) Feed(b byte) bool {
	switch a.state {
	case stateSawSecondEnter:
		return true

	case stateNoLeads:
		if b == '\n' {
			a.state = stateSawFirstEnter
		}

	case stateSawFirstEnter:
		switch b {
		case '.':
			a.state = stateSawDot
		case '\n':
			// stay in SawFirstEnter
		default:
			a.state = stateNoLeads
		}

	case stateSawDot:
		if b == '\n' {
			a.state = stateSawSecondEnter
		} else {
			a.state = stateNoLeads
		}
	}

	return a.state == stateSawSecondEnter
}

// Accepted reports whether the sequence has been recognized.
func (a *TerminatorAcceptor) Accepted() bool {
	return a.state == stateSawSecondEnter
}
