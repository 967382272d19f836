package session

import "github.com/loopwire/loopwire/internal/wire"

type eventKind int

const (
	evUpstreamBytes eventKind = iota
	evUpstreamClosed
	evListenerData
	evListenerState
	evListenerFailed
)

// event is the single type flowing through Session.events. Every producer
// goroutine (the upstream reader, and every listener.Listener calling back
// through the Sink methods below) constructs one of these and hands it to
// the consumer goroutine running Session.Run — the only place session state
// is ever mutated.
type event struct {
	kind eventKind

	bytes []byte // evUpstreamBytes
	err   error  // evUpstreamClosed, evListenerFailed

	id        wire.TunnelID  // evListenerData, evListenerState, evListenerFailed
	peer      wire.PeerAddr  // evListenerData, evListenerState
	payload   []byte         // evListenerData
	stateCode uint16         // evListenerState
}

// DataReceived implements listener.Sink. It is called from a listener's own
// goroutine, never from Run's consumer goroutine, so it must never block
// forever: once the session has torn down, closeCh is closed and the send
// is abandoned instead of leaking the caller's goroutine.
func (s *Session) DataReceived(id wire.TunnelID, peer wire.PeerAddr, payload []byte) {
	select {
	case s.events <- event{kind: evListenerData, id: id, peer: peer, payload: payload}:
	case <-s.closeCh:
	}
}

// StateChanged implements listener.Sink.
func (s *Session) StateChanged(id wire.TunnelID, peer wire.PeerAddr, state uint16) {
	select {
	case s.events <- event{kind: evListenerState, id: id, peer: peer, stateCode: state}:
	case <-s.closeCh:
	}
}

// ListenerFailed implements listener.Sink.
func (s *Session) ListenerFailed(id wire.TunnelID, err error) {
	select {
	case s.events <- event{kind: evListenerFailed, id: id, err: err}:
	case <-s.closeCh:
	}
}
