package docker

import (
	"fmt"
	"os"
	"path/filepath"
)

// Socket locations probed when DOCKER_HOST is unset. Podman is preferred
// because rootless Podman is the common sandboxing setup.
const (
	podmanSocketPath     = "/var/run/podman/podman.sock"
	podmanXDGSocketPath  = "podman/podman.sock"
	dockerSocketPath     = "/var/run/docker.sock"
	dockerDesktopMacPath = ".docker/run/docker.sock"
	dockerHostEnv        = "DOCKER_HOST"
	xdgRuntimeDirEnv     = "XDG_RUNTIME_DIR"
	unixSocketScheme     = "unix://"
)

// socketCandidates lists socket paths in probe order for the given
// environment and home directory.
func socketCandidates(getenv func(string) string, home string) []string {
	var out []string
	if dir := getenv(xdgRuntimeDirEnv); dir != "" {
		out = append(out, filepath.Join(dir, podmanXDGSocketPath))
	}
	out = append(out, podmanSocketPath, dockerSocketPath)
	if home != "" {
		out = append(out, filepath.Join(home, dockerDesktopMacPath))
	}
	return out
}

// findSocket returns the host URL of the first existing engine socket.
func findSocket(getenv func(string) string, home string, exists func(string) bool) (string, error) {
	candidates := socketCandidates(getenv, home)
	for _, p := range candidates {
		if exists(p) {
			return unixSocketScheme + p, nil
		}
	}
	return "", fmt.Errorf("no container engine socket found (tried %v)", candidates)
}

func socketExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode()&os.ModeSocket != 0
}
