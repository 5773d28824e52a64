// Package pty runs interactive shells attached to pseudo-terminals and
// multiplexes them by caller-supplied session identifiers. Keystrokes go
// in through Manager.SendInput; output, exit and read errors come back
// through the callbacks in Config.
package pty
