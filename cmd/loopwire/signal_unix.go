//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopwire/loopwire/internal/supervisor"
)

func init() {
	statsSource = func(sv *supervisor.Supervisor) {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGUSR1)
		for range ch {
			s := sv.Latest()
			if s == nil {
				log.Println("stats: no session yet")
				continue
			}
			log.Printf("stats: state=%s framesIn=%d framesOut=%d bytesIn=%d bytesOut=%d activeListeners=%d",
				s.State(),
				s.Counters.FramesIn.Load(),
				s.Counters.FramesOut.Load(),
				s.Counters.BytesIn.Load(),
				s.Counters.BytesOut.Load(),
				s.Counters.ActiveListeners.Load(),
			)
		}
	}
}
