package container

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindSocket_ChecksHomeRelativeCandidates(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	colima := filepath.Join(home, ".colima", "default")
	if err := os.MkdirAll(colima, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sock := filepath.Join(colima, "docker.sock")
	if err := os.WriteFile(sock, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// /var/run/docker.sock, if present on the test host, still wins since
	// findSocket checks candidates in order and it's first in the list.
	if _, err := os.Stat("/var/run/docker.sock"); err != nil {
		if got := findSocket(); got != sock {
			t.Fatalf("findSocket: got %q, want %q", got, sock)
		}
	}
}

func TestNewDockerClient_ExplicitHostOverridesAutoDetection(t *testing.T) {
	cli, err := newDockerClient("tcp://127.0.0.1:2375")
	if err != nil {
		t.Fatalf("newDockerClient: %v", err)
	}
	if cli.DaemonHost() != "tcp://127.0.0.1:2375" {
		t.Fatalf("DaemonHost: got %q", cli.DaemonHost())
	}
}
