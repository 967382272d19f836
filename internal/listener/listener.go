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

// Package listener implements the two local listener variants — UDP-bound
// and TCP-bound — that each own a loopback socket on behalf of one tunnel
// identifier and translate local I/O events into events delivered to a
// Sink (the owning tunnel session).
package listener

import (
	"net"
	"strconv"

	"github.com/loopwire/loopwire/internal/wire"
)

// Sink receives events from a Listener's producer goroutines (the accept
// loop, per-connection read loops, the UDP read loop). A session implements
// Sink. Sink methods only ever report what happened; they never decide to
// tear a listener down themselves — that decision, and the corresponding
// call to Listener.Shutdown, belongs to the single goroutine that owns
// session state, so that a listener can never call back into its own sink
// while that same goroutine is already inside a Listener method (which
// would deadlock a single-consumer event channel).
type Sink interface {
	// DataReceived is called for every inbound chunk: a UDP datagram, or a
	// read from an accepted TCP connection.
	DataReceived(id wire.TunnelID, peer wire.PeerAddr, payload []byte)
	// StateChanged is called on TCP accept (wire.StateOpen) and on
	// remote close/error of a single accepted connection (wire.StateClose).
	// UDP listeners never call this.
	StateChanged(id wire.TunnelID, peer wire.PeerAddr, state uint16)
	// ListenerFailed reports that the listener itself (not a single
	// connection) can no longer accept or serve traffic, e.g. its accept
	// loop died. The listener keeps whatever state it has until the sink
	// calls Shutdown on it.
	ListenerFailed(id wire.TunnelID, err error)
}

// Listener is the local-listener contract shared by the UDP and TCP
// variants.
type Listener interface {
	// ID reports the tunnel identifier this listener was bound for.
	ID() wire.TunnelID
	// Send delivers data arriving from the tunnel session to peer. For the
	// TCP variant, an unknown peer returns an error and has no other
	// side effect — spec §4.4 treats this as a protocol desync, but the
	// decision to tear the listener down belongs to the caller (session),
	// via Shutdown, not to Send itself.
	Send(peer wire.PeerAddr, payload []byte) error
	// Shutdown silently closes the listener and every connection it owns,
	// without reporting anything through Sink, and returns the peers whose
	// accepted TCP connection was still open (nil for UDP). The caller is
	// responsible for announcing those closures upstream. Idempotent.
	Shutdown() []wire.PeerAddr
}

// loopbackAddr builds the "127.0.0.1:port" address every listener binds,
// per spec.md §9 item 4: host binding is intentionally hard-wired to
// loopback.
func loopbackAddr(port uint16) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
}
