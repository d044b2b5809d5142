package client

import "testing"

func feedAll(a *TerminatorAcceptor, s string) bool {
	accepted := false
	for i := 0; i < len(s); i++ {
		accepted = a.Feed(s[i])
	}
	return accepted
}

func TestTerminatorAcceptsBareDotAtStart(t *testing.T) {
	a := NewTerminatorAcceptor()
	if !feedAll(a, ".\n") {
		t.Fatal("expected \".\\n\" at the very start of input to terminate")
	}
}

func TestTerminatorAcceptsAfterOtherInput(t *testing.T) {
	a := NewTerminatorAcceptor()
	if feedAll(a, "some command\n") {
		t.Fatal("did not expect termination on ordinary input")
	}
	if !feedAll(a, ".\n") {
		t.Fatal("expected \"\\n.\\n\" to terminate")
	}
}

func TestTerminatorIgnoresDotNotFollowingNewline(t *testing.T) {
	a := NewTerminatorAcceptor()
	if feedAll(a, "ls .\n") {
		t.Fatal("did not expect \"ls .\\n\" to terminate: dot doesn't start its own line")
	}
}

func TestTerminatorResetsOnNonMatchingByte(t *testing.T) {
	a := NewTerminatorAcceptor()
	feedAll(a, "\n.x")
	if a.Accepted() {
		t.Fatal("expected acceptor to reset after a non-newline byte following the dot")
	}
	if !feedAll(a, "\n.\n") {
		t.Fatal("expected acceptor to still recognize the sequence afterwards")
	}
}

func TestTerminatorIsAbsorbingOnceAccepted(t *testing.T) {
	a := NewTerminatorAcceptor()
	feedAll(a, ".\n")
	if !a.Accepted() {
		t.Fatal("expected acceptor to be accepted")
	}
	if !a.Feed('x') {
		t.Fatal("expected acceptor to keep reporting accepted regardless of further input")
	}
}

func TestTerminatorRepeatedNewlinesBeforeDot(t *testing.T) {
	a := NewTerminatorAcceptor()
	if feedAll(a, "\n\n\n") {
		t.Fatal("did not expect bare newlines to terminate")
	}
	if !feedAll(a, ".\n") {
		t.Fatal("expected terminator after a run of blank lines")
	}
}
