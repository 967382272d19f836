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

// Package session implements the tunnel session state machine: the
// handshake, the header/body frame alternation, and the dispatch table
// between tunnel identifiers and local listeners. It is the only code that
// ever mutates that table — every listener and connection goroutine only
// ever reports what happened, through the events channel, and the single
// goroutine running Session.Run decides what to do about it.
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/loopwire/loopwire/internal/config"
	"github.com/loopwire/loopwire/internal/framer"
	"github.com/loopwire/loopwire/internal/listener"
	"github.com/loopwire/loopwire/internal/wire"
)

// State is one of the four states in spec.md §4.5.
type State int

const (
	StateConnecting State = iota
	StateAwaitConfig
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitConfig:
		return "AWAIT_CONFIG"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Counters are the session's running traffic statistics, read by
// internal/metrics. All fields are updated only by the consumer goroutine
// but read concurrently, hence atomics rather than a mutex.
type Counters struct {
	FramesIn        atomic.Uint64
	FramesOut       atomic.Uint64
	BytesIn         atomic.Uint64
	BytesOut        atomic.Uint64
	ActiveListeners atomic.Int64
}

// Session owns one upstream TCP connection and every local listener bound
// for its lifetime.
type Session struct {
	addr         string
	metadataLine []byte
	debug        bool

	conn net.Conn
	fr   *framer.Framer

	state         State
	pendingHeader *wire.Header
	configured    bool
	listeners     map[wire.TunnelID]listener.Listener

	events  chan event
	closeCh chan struct{}

	Counters Counters
}

// New constructs a Session that will dial addr and send metadataLine as its
// handshake line when Run is called.
func New(addr string, metadataLine []byte, debug bool) *Session {
	return &Session{
		addr:         addr,
		metadataLine: metadataLine,
		debug:        debug,
		fr:           framer.New(),
		listeners:    make(map[wire.TunnelID]listener.Listener),
		events:       make(chan event),
		closeCh:      make(chan struct{}),
	}
}

// State reports the session's current state. Safe to call from another
// goroutine only after Run has returned, or racily for diagnostics.
func (s *Session) State() State { return s.state }

// Run drives the session from CONNECTING through to CLOSED and returns the
// reason it closed: the connect or metadata-write error, a listener event
// that arrived before the handshake completed, or ctx.Err() when ctx is
// canceled. It returns nil when the session closed because the upstream
// connection was lost or a protocol violation was logged.
func (s *Session) Run(ctx context.Context) error {
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		s.state = StateClosed
		return errors.Wrap(err, "session: connect")
	}
	s.conn = conn
	s.state = StateAwaitConfig
	s.fr.SetMode(0)

	if _, err := conn.Write(append(append([]byte(nil), s.metadataLine...), '\n')); err != nil {
		s.state = StateClosed
		conn.Close()
		return errors.Wrap(err, "session: write metadata line")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.upstreamReadLoop(runCtx)

	var closeErr error
loop:
	for {
		select {
		case <-ctx.Done():
			closeErr = ctx.Err()
			break loop
		case ev := <-s.events:
			if err := s.handle(ev); err != nil {
				closeErr = err
				break loop
			}
			if s.state == StateClosed {
				break loop
			}
		}
	}

	s.teardown()
	return closeErr
}

// teardown closes every listener, writing a best-effort final STATE=CLOSE
// frame for every TCP peer still open (spec §3: an AcceptedConnection is
// "closed ... on supervisor teardown, and then reported upstream as
// STATE=CLOSE"), and only then closes the upstream connection. It must be
// called exactly once, from Run's consumer goroutine: it closes closeCh,
// which panics on a second call. writeFrame does not consult s.state, so
// these final writes are attempted whatever state the session is in; a
// connection that is in fact already gone just fails the write, which is
// logged. s.state is set to StateClosed after the notification loop.
func (s *Session) teardown() {
	close(s.closeCh)

	for id, l := range s.listeners {
		for _, peer := range l.Shutdown() {
			s.writeStateFrame(id, peer, wire.StateClose)
		}
	}
	s.listeners = make(map[wire.TunnelID]listener.Listener)
	s.Counters.ActiveListeners.Store(0)

	s.state = StateClosed
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Session) upstreamReadLoop(ctx context.Context) {
	r := bufio.NewReaderSize(s.conn, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case s.events <- event{kind: evUpstreamBytes, bytes: chunk}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case s.events <- event{kind: evUpstreamClosed, err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// handle processes exactly one event. It is only ever called from the
// Run goroutine.
func (s *Session) handle(ev event) error {
	switch ev.kind {
	case evUpstreamBytes:
		return s.handleUpstreamBytes(ev.bytes)
	case evUpstreamClosed:
		s.logf(color.FgYellow, "upstream connection lost: %v", ev.err)
		s.state = StateClosed
		return nil
	case evListenerData:
		return s.handleListenerData(ev.id, ev.peer, ev.payload)
	case evListenerState:
		return s.handleListenerState(ev.id, ev.peer, ev.stateCode)
	case evListenerFailed:
		s.handleListenerFailed(ev.id, ev.err)
		return nil
	default:
		return errors.Errorf("session: unknown internal event kind %d", ev.kind)
	}
}

func (s *Session) handleUpstreamBytes(b []byte) error {
	if err := s.fr.Feed(b); err != nil {
		s.logf(color.FgRed, "protocol violation: %v", err)
		s.state = StateClosed
		return nil
	}

	for {
		chunk, ok := s.fr.Emit()
		if !ok {
			return nil
		}
		if err := s.handleUnit(chunk); err != nil {
			return err
		}
		if s.state == StateClosed {
			return nil
		}
	}
}

func (s *Session) handleUnit(chunk []byte) error {
	switch s.state {
	case StateAwaitConfig:
		return s.handleConfigLine(chunk)
	case StateRunning:
		return s.handleFrameChunk(chunk)
	default:
		return errors.Errorf("session: received data in unexpected state %s", s.state)
	}
}

// handleConfigLine implements the AWAIT_CONFIG -> RUNNING / CLOSED
// transition (spec §4.5).
func (s *Session) handleConfigLine(line []byte) error {
	if s.configured {
		s.logf(color.FgRed, "protocol violation: duplicate configuration line")
		s.state = StateClosed
		return nil
	}

	cfg, err := config.ParseBindConfig(line)
	if err != nil {
		s.logf(color.FgRed, "protocol violation: %v", err)
		s.state = StateClosed
		return nil
	}

	bound := make(map[wire.TunnelID]listener.Listener, len(cfg.Bind))
	var bindErr error
	for _, b := range cfg.Bind {
		id, err := b.TunnelID()
		if err != nil {
			bindErr = err
			break
		}
		l, err := s.bind(id)
		if err != nil {
			bindErr = err
			break
		}
		bound[id] = l
	}

	if bindErr != nil || len(bound) != len(cfg.Bind) {
		s.logf(color.FgRed, "bind failure, tearing down: %v", bindErr)
		for _, l := range bound {
			l.Shutdown()
		}
		s.state = StateClosed
		return nil
	}

	s.listeners = bound
	s.configured = true
	s.state = StateRunning
	s.fr.SetMode(wire.HeaderSize)
	s.Counters.ActiveListeners.Store(int64(len(s.listeners)))
	s.logf(color.FgGreen, "running with %d listener(s)", len(s.listeners))
	return nil
}

func (s *Session) bind(id wire.TunnelID) (listener.Listener, error) {
	switch id.Transport {
	case wire.TransportTCP:
		return listener.ListenTCP(id, s)
	case wire.TransportUDP:
		return listener.ListenUDP(id, s)
	default:
		return nil, errors.Errorf("session: unknown transport %d for port %d", id.Transport, id.Port)
	}
}

// handleFrameChunk implements the RUNNING header/body alternation
// (spec §4.5).
func (s *Session) handleFrameChunk(chunk []byte) error {
	if s.pendingHeader == nil {
		h, err := wire.DecodeHeader(chunk)
		if err != nil {
			s.logf(color.FgRed, "protocol violation: %v", err)
			s.state = StateClosed
			return nil
		}
		if h.Family != wire.FamilyIPv4 && h.Family != wire.FamilyIPv6 {
			s.logf(color.FgRed, "protocol violation: unknown address family %d in frame header", h.Family)
			s.state = StateClosed
			return nil
		}
		s.pendingHeader = &h
		s.fr.SetMode(int(h.TotalLength) - wire.HeaderSize)
		return nil
	}

	h := *s.pendingHeader
	s.pendingHeader = nil
	s.fr.SetMode(wire.HeaderSize)

	peer, rest, err := wire.DecodeBody(h, chunk)
	if err != nil {
		s.logf(color.FgRed, "protocol violation: %v", err)
		s.state = StateClosed
		return nil
	}

	s.Counters.FramesIn.Add(1)
	s.Counters.BytesIn.Add(uint64(h.TotalLength))

	switch h.Type {
	case wire.TypeData:
		id := wire.TunnelID{Family: h.Family, Transport: h.Transport, Port: h.Port}
		l, ok := s.listeners[id]
		if !ok {
			s.logf(color.FgRed, "protocol violation: DATA frame for unbound tunnel id %+v", id)
			s.state = StateClosed
			return nil
		}
		if err := l.Send(peer, rest); err != nil {
			// Dispatch miss: spec §4.4 treats sending to an unknown local
			// peer as a protocol desync that closes the entire listener,
			// while the session itself continues (spec §7 propagation
			// policy: contained).
			s.logf(color.FgRed, "dispatch miss on port %d: %v", id.Port, err)
			delete(s.listeners, id)
			s.Counters.ActiveListeners.Store(int64(len(s.listeners)))
			for _, p := range l.Shutdown() {
				s.writeStateFrame(id, p, wire.StateClose)
			}
		}
		return nil
	case wire.TypeState:
		// OQ-3: the server sending STATE is a protocol violation in this
		// client, matching the reference implementation's behavior.
		s.logf(color.FgRed, "protocol violation: received STATE frame from server")
		s.state = StateClosed
		return nil
	default:
		s.logf(color.FgRed, "protocol violation: unknown frame type %d", h.Type)
		s.state = StateClosed
		return nil
	}
}

func (s *Session) handleListenerData(id wire.TunnelID, peer wire.PeerAddr, payload []byte) error {
	if s.state != StateRunning {
		return errors.Errorf("session: listener event for port %d before handshake completed", id.Port)
	}
	frame, err := wire.EncodeData(id.Transport, id.Family, id.Port, peer, payload)
	if err != nil {
		s.logf(color.FgRed, "dropping oversize frame for port %d: %v", id.Port, err)
		return nil
	}
	return s.writeFrame(frame)
}

func (s *Session) handleListenerState(id wire.TunnelID, peer wire.PeerAddr, state uint16) error {
	if s.state != StateRunning {
		return errors.Errorf("session: listener event for port %d before handshake completed", id.Port)
	}
	s.writeStateFrame(id, peer, state)
	return nil
}

func (s *Session) handleListenerFailed(id wire.TunnelID, err error) {
	s.logf(color.FgRed, "listener for port %d failed: %v", id.Port, err)
	l, ok := s.listeners[id]
	if !ok {
		return
	}
	delete(s.listeners, id)
	s.Counters.ActiveListeners.Store(int64(len(s.listeners)))
	for _, p := range l.Shutdown() {
		s.writeStateFrame(id, p, wire.StateClose)
	}
}

// writeStateFrame is best-effort during teardown (the upstream connection
// may already be gone) and authoritative otherwise: a write error while
// RUNNING is a transport-lost condition that closes the session.
func (s *Session) writeStateFrame(id wire.TunnelID, peer wire.PeerAddr, state uint16) {
	frame, err := wire.EncodeState(id.Transport, id.Family, id.Port, peer, state)
	if err != nil {
		s.logf(color.FgRed, "failed to encode STATE frame for port %d: %v", id.Port, err)
		return
	}
	_ = s.writeFrame(frame)
}

func (s *Session) writeFrame(frame []byte) error {
	if _, err := s.conn.Write(frame); err != nil {
		s.logf(color.FgYellow, "upstream write failed: %v", err)
		s.state = StateClosed
		return nil
	}
	s.Counters.FramesOut.Add(1)
	s.Counters.BytesOut.Add(uint64(len(frame)))
	return nil
}

func (s *Session) logf(attr color.Attribute, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.debug {
		msg = fmt.Sprintf("[%s] %s", s.state, msg)
	}
	color.New(attr).Println(msg)
}
