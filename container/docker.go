// Package container implements the service state machine (C6): creating,
// starting, stopping, destroying, pausing and execing into the Docker
// containers that back an application's services.
package container

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"
)

// newDockerClient builds a Docker client for host. An explicit host wins
// over everything; otherwise it's the SDK's own DOCKER_HOST handling,
// falling back to probing a handful of local socket paths so mcloudd works
// out of the box on Docker Desktop and Colima hosts without any
// configuration at all.
func newDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	switch {
	case host != "":
		opts = append(opts, client.WithHost(host))
	case os.Getenv("DOCKER_HOST") == "":
		if sock := findSocket(); sock != "" {
			opts = append(opts, client.WithHost("unix://"+sock))
		}
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("container: docker client: %w", err)
	}
	return cli, nil
}

// findSocket returns the first existing Docker socket path, or "".
func findSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}

	candidates := []string{"/var/run/docker.sock"}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
