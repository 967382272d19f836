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

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/loopwire/loopwire/internal/config"
	"github.com/loopwire/loopwire/internal/metrics"
	"github.com/loopwire/loopwire/internal/session"
	"github.com/loopwire/loopwire/internal/supervisor"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

// statsSource is set by signal_unix.go/signal_windows.go's init to start
// (or not) a platform-specific stats-dump signal watcher.
var statsSource func(*supervisor.Supervisor)

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "loopwire"
	myApp.Usage = "tunnel proxy client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "connect, c",
			Value: "127.0.0.1:9000",
			Usage: `tunnel server address, eg: "IP:9000"`,
		},
		cli.StringFlag{
			Name:  "json-metadata, j",
			Value: "",
			Usage: "path to a JSON object file, re-encoded onto one compact line and sent as the handshake metadata line, defaults to {}",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "prefix log lines with the session's current state",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "metrics",
			Value: "",
			Usage: "collect session metrics to file, aware of Go's reference-time layout, like: ./metrics-20060102.csv",
		},
		cli.IntFlag{
			Name:  "metrics-period",
			Value: 60,
			Usage: "metrics collection period, in seconds",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func run(c *cli.Context) error {
	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	metaLine, err := config.LoadMetadata(c.String("json-metadata"))
	if err != nil {
		return errors.Wrap(err, "load metadata")
	}

	addr := c.String("connect")
	debug := c.Bool("debug")

	log.Println("version:", VERSION)
	log.Println("remote address:", addr)
	log.Println("metadata:", string(metaLine))
	log.Println("debug:", debug)
	log.Println("metrics:", c.String("metrics"))
	log.Println("metrics-period:", c.Int("metrics-period"))

	sv := supervisor.New(func() *session.Session {
		return session.New(addr, metaLine, debug)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchSignals(cancel)
	if statsSource != nil {
		go statsSource(sv)
	}
	go metrics.Run(ctx, c.String("metrics"), c.Int("metrics-period"), sv.Latest)

	sv.Run(ctx)
	return nil
}

func watchSignals(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
}
