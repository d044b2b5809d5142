package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSocketAndLogPathShareBasename(t *testing.T) {
	sock, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath: %v", err)
	}
	logPath, err := LogPath()
	if err != nil {
		t.Fatalf("LogPath: %v", err)
	}

	if filepath.Dir(sock) != filepath.Dir(logPath) {
		t.Fatalf("socket %q and log %q are not in the same directory", sock, logPath)
	}

	base := strings.TrimSuffix(filepath.Base(sock), filepath.Ext(sock))
	wantLog := base + ".log"
	if filepath.Base(logPath) != wantLog {
		t.Fatalf("log basename = %q, want %q", filepath.Base(logPath), wantLog)
	}
}

func TestRuntimeDirRespectsXDGRuntimeDir(t *testing.T) {
	dir := t.TempDir()
	old := os.Getenv("XDG_RUNTIME_DIR")
	os.Setenv("XDG_RUNTIME_DIR", dir)
	defer os.Setenv("XDG_RUNTIME_DIR", old)

	sock, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath: %v", err)
	}
	if !strings.HasPrefix(sock, dir) {
		t.Fatalf("socket path %q does not honor XDG_RUNTIME_DIR %q", sock, dir)
	}
}

func TestRuntimeDirFallsBackToTempDir(t *testing.T) {
	old := os.Getenv("XDG_RUNTIME_DIR")
	os.Unsetenv("XDG_RUNTIME_DIR")
	defer os.Setenv("XDG_RUNTIME_DIR", old)

	sock, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath: %v", err)
	}
	if !strings.HasPrefix(sock, os.TempDir()) {
		t.Fatalf("socket path %q does not fall back under os.TempDir() %q", sock, os.TempDir())
	}
}
