// The MIT License (MIT)
//
// # Copyright (c) 2024 loopwire authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package supervisor drives the reconnect loop: construct a session, run it
// to completion, and dial again after a fixed delay. It never gives up.
package supervisor

import (
	"context"
	"time"

	"github.com/fatih/color"

	"github.com/loopwire/loopwire/internal/session"
)

// reconnectDelay mirrors the teacher's waitConn loop: a flat one-second
// pause between attempts, no backoff, no retry cap (spec.md §4.6).
const reconnectDelay = time.Second

// Factory builds a fresh Session for the next connection attempt. A new
// Session is required per attempt since Session.Run is not restartable.
type Factory func() *session.Session

// Supervisor repeatedly runs sessions produced by its Factory until ctx is
// canceled.
type Supervisor struct {
	newSession Factory
	latest     *session.Session
}

// New returns a Supervisor that will build sessions with newSession.
func New(newSession Factory) *Supervisor {
	return &Supervisor{newSession: newSession}
}

// Latest returns the most recently constructed session, or nil before the
// first connection attempt. Used by the metrics logger and signal handler
// to read live counters.
func (sv *Supervisor) Latest() *session.Session { return sv.latest }

// Run blocks until ctx is canceled, reconnecting after every session exit.
func (sv *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s := sv.newSession()
		sv.latest = s

		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			color.New(color.FgYellow).Printf("session ended: %v, reconnecting in %s\n", err, reconnectDelay)
		} else {
			color.New(color.FgYellow).Printf("session ended, reconnecting in %s\n", reconnectDelay)
		}

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}
