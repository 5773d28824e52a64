package pty

import (
	"os"
	"os/exec"

	ptylib "github.com/creack/pty"
)

// spawnShell starts shellPath attached to a new PTY and returns the
// command and the PTY master.
func spawnShell(shellPath string, cfg Config) (*exec.Cmd, *os.File, error) {
	cmd := exec.Command(shellPath)
	cmd.Env = append(os.Environ(), "TERM="+cfg.Term)
	cmd.Dir = cfg.Dir

	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{
		Rows: cfg.Rows,
		Cols: cfg.Cols,
	})
	if err != nil {
		return nil, nil, err
	}
	return cmd, ptmx, nil
}
