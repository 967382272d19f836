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

// Package framer implements the two-mode stream framer that sits above the
// upstream byte stream: line mode during the bootstrap handshake, and
// fixed-length binary mode once the tunnel session is running.
package framer

import (
	"bytes"

	"github.com/pkg/errors"
)

// MaxBuffered is the total buffer cap enforced in both modes. Exceeding it
// is a protocol violation that closes the connection.
const MaxBuffered = 1 << 20 // 1 MiB

const delimiter = '\n'

// Framer accumulates bytes fed to it via Feed and emits complete lines or
// fixed-length binary chunks via Emit. It holds no socket of its own; the
// caller owns I/O and calls Feed with whatever it reads.
type Framer struct {
	buf  []byte
	size int // 0 = line mode, N>0 = binary mode expecting N bytes
}

// New returns a Framer starting in line mode.
func New() *Framer {
	return &Framer{}
}

// SetMode switches modes. size == 0 selects line mode; size > 0 selects
// binary mode awaiting exactly size bytes.
func (f *Framer) SetMode(size int) {
	f.size = size
}

// Feed appends newly-read bytes to the internal buffer. It returns an error
// if doing so would exceed MaxBuffered.
func (f *Framer) Feed(b []byte) error {
	if len(f.buf)+len(b) > MaxBuffered {
		return errors.Errorf("framer: buffer cap of %d bytes exceeded", MaxBuffered)
	}
	f.buf = append(f.buf, b...)
	return nil
}

// Emit extracts at most one complete unit from the buffer given the current
// mode. It returns ok == false if no complete unit is available yet; the
// caller should read more and Feed again.
//
// In line mode, a unit is everything up to (not including) the first '\n'.
// The framer advances exactly one byte past the delimiter, discarding it —
// not two, which would silently eat the first byte of the next line.
//
// In binary mode, a unit is the first `size` bytes once at least that many
// are buffered; the caller chooses the next size via SetMode before calling
// Emit again.
func (f *Framer) Emit() (chunk []byte, ok bool) {
	if f.size == 0 {
		i := bytes.IndexByte(f.buf, delimiter)
		if i < 0 {
			return nil, false
		}
		line := append([]byte(nil), f.buf[:i]...)
		f.buf = append([]byte(nil), f.buf[i+1:]...)
		return line, true
	}

	if len(f.buf) < f.size {
		return nil, false
	}
	out := append([]byte(nil), f.buf[:f.size]...)
	f.buf = append([]byte(nil), f.buf[f.size:]...)
	return out, true
}
