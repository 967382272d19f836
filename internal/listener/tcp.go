package listener

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/loopwire/loopwire/internal/bufpool"
	"github.com/loopwire/loopwire/internal/wire"
)

// acceptedConn is one accepted TCP peer connection, owned exclusively by
// the TCPListener that accepted it (spec §3 Ownership).
type acceptedConn struct {
	conn net.Conn
	peer wire.PeerAddr
}

// TCPListener binds one listening socket on the loopback interface,
// accepts connections, and maintains a PeerAddr -> acceptedConn table for
// the lifetime of each connection (spec §4.4).
type TCPListener struct {
	id   wire.TunnelID
	ln   net.Listener
	sink Sink

	mu    sync.Mutex
	peers map[string]*acceptedConn

	cancel context.CancelFunc
	closed bool
}

// ListenTCP binds a TCP socket on 127.0.0.1:id.Port and begins accepting
// connections, relaying events to sink until Shutdown is called. The
// spec's backlog of 5 is a listen(2) hint the standard library's
// net.Listen does not expose; the kernel default backlog applies instead,
// which is never smaller than 5 on any platform this runs on.
func ListenTCP(id wire.TunnelID, sink Sink) (*TCPListener, error) {
	ln, err := listenConfig().Listen(context.Background(), "tcp", loopbackAddr(id.Port))
	if err != nil {
		return nil, errors.Wrapf(err, "listener: bind TCP port %d", id.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &TCPListener{
		id:     id,
		ln:     ln,
		sink:   sink,
		peers:  make(map[string]*acceptedConn),
		cancel: cancel,
	}
	go l.acceptLoop(ctx)
	return l, nil
}

func (l *TCPListener) ID() wire.TunnelID { return l.id }

func (l *TCPListener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Shutdown already closed the listening socket; nothing
				// further to report.
			default:
				l.sink.ListenerFailed(l.id, errors.Wrap(err, "listener: accept"))
			}
			return
		}

		remote := conn.RemoteAddr().(*net.TCPAddr)
		peer := wire.PeerAddr{IP: remote.IP, Port: uint16(remote.Port)}
		ac := &acceptedConn{conn: conn, peer: peer}

		l.mu.Lock()
		l.peers[peer.String()] = ac
		l.mu.Unlock()

		l.sink.StateChanged(l.id, peer, wire.StateOpen)
		go l.readLoop(ctx, ac)
	}
}

func (l *TCPListener) readLoop(ctx context.Context, ac *acceptedConn) {
	for {
		buf := bufpool.Get()
		n, err := ac.conn.Read(buf)
		if n > 0 {
			payload := append([]byte(nil), buf[:n]...)
			bufpool.Put(buf)
			select {
			case <-ctx.Done():
				return
			default:
				l.sink.DataReceived(l.id, ac.peer, payload)
			}
		} else {
			bufpool.Put(buf)
		}
		if err != nil {
			l.reportRemoteClose(ctx, ac)
			return
		}
	}
}

// reportRemoteClose removes ac from the peer table and reports exactly one
// StateClose for it, unless it has already been removed by a concurrent
// Shutdown (spec §3 AcceptedConnection lifecycle: exactly one CLOSE per
// OPEN, even under error paths).
func (l *TCPListener) reportRemoteClose(ctx context.Context, ac *acceptedConn) {
	l.mu.Lock()
	_, present := l.peers[ac.peer.String()]
	delete(l.peers, ac.peer.String())
	l.mu.Unlock()
	if !present {
		return
	}

	ac.conn.Close()
	select {
	case <-ctx.Done():
	default:
		l.sink.StateChanged(l.id, ac.peer, wire.StateClose)
	}
}

// Send delivers payload to peer's accepted connection. An unknown peer
// returns an error with no other side effect; the caller decides whether
// that warrants tearing the listener down (spec §4.4).
func (l *TCPListener) Send(peer wire.PeerAddr, payload []byte) error {
	l.mu.Lock()
	ac, ok := l.peers[peer.String()]
	l.mu.Unlock()
	if !ok {
		return errors.Errorf("listener: no accepted connection for peer %s on port %d", peer, l.id.Port)
	}

	if _, err := ac.conn.Write(payload); err != nil {
		return errors.Wrapf(err, "listener: write to peer %s", peer)
	}
	return nil
}

// Shutdown silently closes the listening socket and every still-open
// accepted connection, returning the peers that were open. Idempotent.
func (l *TCPListener) Shutdown() []wire.PeerAddr {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	peers := make([]wire.PeerAddr, 0, len(l.peers))
	conns := make([]*acceptedConn, 0, len(l.peers))
	for _, ac := range l.peers {
		peers = append(peers, ac.peer)
		conns = append(conns, ac)
	}
	l.peers = make(map[string]*acceptedConn)
	l.mu.Unlock()

	l.cancel()
	l.ln.Close()
	for _, ac := range conns {
		ac.conn.Close()
	}
	return peers
}
