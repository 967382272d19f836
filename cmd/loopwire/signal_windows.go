//go:build windows

package main

import "github.com/loopwire/loopwire/internal/supervisor"

// Windows has no SIGUSR1 equivalent wired up; the stats dump is simply
// unavailable there, matching the teacher's client/signal.go which is only
// built on linux, darwin and freebsd.
func init() {
	statsSource = func(sv *supervisor.Supervisor) {}
}
