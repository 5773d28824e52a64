// Package unit holds the pieces shared by the exec manager and the log
// streamer: a mutex-guarded registry of long-running units keyed by a
// caller-supplied identifier, the error values both managers return, and
// the process helpers they use to reap and kill their children.
package unit
