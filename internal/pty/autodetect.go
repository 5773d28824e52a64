package pty

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	defaultPreferredShell = "/bin/bash"
	defaultFallbackShell  = "/bin/sh"
)

// ResolveShell picks the shell to run: requested if it is an executable
// file, otherwise preferred if executable, otherwise fallback. The fallback
// is assumed present; if it is not, the spawn reports the failure.
func ResolveShell(requested, preferred, fallback string) string {
	if requested != "" && isExecutable(requested) {
		return requested
	}
	if preferred != "" && isExecutable(preferred) {
		return preferred
	}
	return fallback
}

// isExecutable checks if a path is a regular file the agent may execute.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
