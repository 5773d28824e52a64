// Package logstream delivers line-oriented log output to callers, either
// from a following child process (journalctl, dmesg) or from a file that
// is tailed for appended lines once it appears. Streams are keyed by
// caller-supplied identifiers and share one Stop/StopAll contract.
package logstream
