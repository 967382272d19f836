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

// Package metrics periodically appends the supervisor's live session
// counters to a CSV file, rotating by formatted filename the way the
// teacher's SNMP logger does, except each completed file is snappy-compressed
// on rotation instead of left as plain text.
package metrics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	"github.com/loopwire/loopwire/internal/session"
)

var header = []string{"Unix", "FramesIn", "FramesOut", "BytesIn", "BytesOut", "ActiveListeners"}

// Source is read on every tick to get the current counters. A nil return
// (no session connected yet) skips that tick.
type Source func() *session.Session

// Run ticks every interval seconds, appending one row to the CSV file
// formatted from path (interpreted the way time.Format interprets a
// reference-time layout, e.g. "metrics-20060102.csv"). It returns when ctx
// is canceled. path == "" or interval <= 0 disables logging entirely.
func Run(ctx context.Context, path string, interval int, src Source) {
	if path == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	logdir, logfile := filepath.Split(path)
	var currentName string

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := src()
			if s == nil {
				continue
			}

			name := logdir + time.Now().Format(logfile)
			if currentName != "" && name != currentName {
				compressAndRemove(currentName)
			}
			currentName = name

			if err := appendRow(name, s); err != nil {
				log.Println("metrics:", err)
			}
		}
	}
}

func appendRow(name string, s *session.Session) error {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}

	row := []string{
		fmt.Sprint(time.Now().Unix()),
		fmt.Sprint(s.Counters.FramesIn.Load()),
		fmt.Sprint(s.Counters.FramesOut.Load()),
		fmt.Sprint(s.Counters.BytesIn.Load()),
		fmt.Sprint(s.Counters.BytesOut.Load()),
		fmt.Sprint(s.Counters.ActiveListeners.Load()),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// compressAndRemove replaces a completed log file with a snappy-framed copy
// and removes the plaintext original. Best effort: a failure here is logged
// and otherwise ignored, since it must never block the next tick's logging.
func compressAndRemove(name string) {
	in, err := os.Open(name)
	if err != nil {
		log.Println("metrics: rotate:", err)
		return
	}
	defer in.Close()

	out, err := os.Create(name + ".snappy")
	if err != nil {
		log.Println("metrics: rotate:", err)
		return
	}
	w := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		log.Println("metrics: rotate:", err)
		w.Close()
		out.Close()
		return
	}
	if err := w.Close(); err != nil {
		log.Println("metrics: rotate:", err)
	}
	out.Close()
	os.Remove(name)
}
