package listener

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/loopwire/loopwire/internal/bufpool"
	"github.com/loopwire/loopwire/internal/wire"
)

// UDPListener binds one datagram socket on the loopback interface and
// relays every received datagram upward as a DataReceived event, with no
// per-peer state of its own (spec §4.3).
type UDPListener struct {
	id   wire.TunnelID
	conn *net.UDPConn
	sink Sink

	cancel context.CancelFunc
}

// ListenUDP binds a UDP socket on 127.0.0.1:id.Port and begins relaying
// datagrams to sink until Shutdown is called.
func ListenUDP(id wire.TunnelID, sink Sink) (*UDPListener, error) {
	pc, err := listenConfig().ListenPacket(context.Background(), "udp", loopbackAddr(id.Port))
	if err != nil {
		return nil, errors.Wrapf(err, "listener: bind UDP port %d", id.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &UDPListener{
		id:     id,
		conn:   pc.(*net.UDPConn),
		sink:   sink,
		cancel: cancel,
	}
	go l.readLoop(ctx)
	return l, nil
}

func (l *UDPListener) ID() wire.TunnelID { return l.id }

func (l *UDPListener) readLoop(ctx context.Context) {
	for {
		buf := bufpool.Get()
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			bufpool.Put(buf)
			select {
			case <-ctx.Done():
				// Shutdown closed the socket; expected.
			default:
				l.sink.ListenerFailed(l.id, errors.Wrap(err, "listener: read UDP datagram"))
			}
			return
		}

		payload := append([]byte(nil), buf[:n]...)
		bufpool.Put(buf)

		peer := wire.PeerAddr{IP: addr.IP, Port: uint16(addr.Port)}
		select {
		case <-ctx.Done():
			return
		default:
			l.sink.DataReceived(l.id, peer, payload)
		}
	}
}

// Send delivers one datagram to peer on the bound socket.
func (l *UDPListener) Send(peer wire.PeerAddr, payload []byte) error {
	_, err := l.conn.WriteToUDP(payload, &net.UDPAddr{IP: peer.IP, Port: int(peer.Port)})
	if err != nil {
		return errors.Wrapf(err, "listener: write UDP datagram to %s", peer)
	}
	return nil
}

// Shutdown closes the bound socket. UDP has no accepted-connection
// lifecycle to unwind, so it always returns nil.
func (l *UDPListener) Shutdown() []wire.PeerAddr {
	l.cancel()
	l.conn.Close()
	return nil
}
