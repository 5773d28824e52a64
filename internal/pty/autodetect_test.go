package pty

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveShell(t *testing.T) {
	dir := t.TempDir()
	executable := filepath.Join(dir, "myshell")
	if err := os.WriteFile(executable, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	plain := filepath.Join(dir, "notashell")
	if err := os.WriteFile(plain, []byte("text\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name      string
		requested string
		preferred string
		want      string
	}{
		{"requested executable", executable, missing, executable},
		{"empty uses preferred", "", executable, executable},
		{"not executable uses preferred", plain, executable, executable},
		{"directory uses preferred", dir, executable, executable},
		{"nothing usable uses fallback", missing, plain, "/fallback/sh"},
		{"empty everything uses fallback", "", "", "/fallback/sh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveShell(tt.requested, tt.preferred, "/fallback/sh")
			if got != tt.want {
				t.Errorf("ResolveShell(%q, %q) = %q, want %q", tt.requested, tt.preferred, got, tt.want)
			}
		})
	}
}
